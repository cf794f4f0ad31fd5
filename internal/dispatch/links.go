package dispatch

import (
	"regexp"
	"strings"

	"wabcast/internal/model"
)

var urlRe = regexp.MustCompile(`https?://[^\s]+`)

const sourceMarker = "broadcast"

// RewriteLinks appends tracking parameters to every URL in the text
// according to the bot's link-parameter policy. The medium marker is derived
// from the destination group's name, sanitized to a lowercase alphanumeric
// token.
func RewriteLinks(text string, policy model.LinkPolicy, groupName string) string {
	if text == "" || policy == model.LinkNone || policy == "" {
		return text
	}
	medium := SanitizeGroupName(groupName)

	return urlRe.ReplaceAllStringFunc(text, func(match string) string {
		// The regex is greedy up to whitespace, so sentence punctuation
		// right after a URL lands inside the match. Split it off and
		// re-attach it after the parameters.
		u := strings.TrimRight(match, ".,;:!?)")
		trailing := match[len(u):]
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		switch policy {
		case model.LinkSourceOnly:
			return u + sep + "utm_source=" + sourceMarker + trailing
		case model.LinkMediumOnly:
			if medium == "" {
				return match
			}
			return u + sep + "utm_medium=" + medium + trailing
		case model.LinkAll:
			out := u + sep + "utm_source=" + sourceMarker
			if medium != "" {
				out += "&utm_medium=" + medium
			}
			return out + trailing
		default:
			return match
		}
	})
}

// SanitizeGroupName lowercases the name and strips everything that is not a
// letter or digit, so it is safe inside a URL query value.
func SanitizeGroupName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
