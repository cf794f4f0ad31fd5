package model

import "time"

// LinkPolicy controls which tracking parameters get appended to URLs in
// outgoing message text.
type LinkPolicy string

const (
	LinkAll        LinkPolicy = "all"
	LinkSourceOnly LinkPolicy = "source_only"
	LinkMediumOnly LinkPolicy = "medium_only"
	LinkNone       LinkPolicy = "none"
)

// SendMethod selects how a queued message is delivered.
type SendMethod string

const (
	SendText    SendMethod = "text"
	SendImage   SendMethod = "image"
	SendForward SendMethod = "forward"
)

// SourceFilter governs which inbound events may become manual triggers.
type SourceFilter string

const (
	SourceAll        SourceFilter = "all"
	SourceDirectOnly SourceFilter = "direct_only"
	SourceGroupOnly  SourceFilter = "group_only"
)

// Settings are the per-bot dispatch knobs, persisted with the bot record.
type Settings struct {
	DelayBetweenGroups   time.Duration
	DelayBetweenMessages time.Duration
	LinkPolicy           LinkPolicy
	SendMethod           SendMethod
	SourceFilter         SourceFilter
}

const minSendDelay = time.Second

// Normalized applies defaults and the 1s delay floor.
func (s Settings) Normalized() Settings {
	if s.DelayBetweenGroups < minSendDelay {
		s.DelayBetweenGroups = minSendDelay
	}
	if s.DelayBetweenMessages < minSendDelay {
		s.DelayBetweenMessages = minSendDelay
	}
	if s.LinkPolicy == "" {
		s.LinkPolicy = LinkNone
	}
	if s.SendMethod == "" {
		s.SendMethod = SendText
	}
	if s.SourceFilter == "" {
		s.SourceFilter = SourceAll
	}
	return s
}

// AllowsInbound reports whether an inbound event from a group/direct chat
// may become a manual trigger under this filter.
func (s Settings) AllowsInbound(fromGroup bool) bool {
	switch s.SourceFilter {
	case SourceDirectOnly:
		return !fromGroup
	case SourceGroupOnly:
		return fromGroup
	default:
		return true
	}
}

// Bot is the persisted identity of one managed connection.
type Bot struct {
	ID          string
	Number      string
	Credentials []byte
	Settings    Settings
}
