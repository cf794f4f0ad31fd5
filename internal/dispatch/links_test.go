package dispatch

import (
	"testing"

	"wabcast/internal/model"
)

func TestRewriteLinks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		text   string
		policy model.LinkPolicy
		group  string
		want   string
	}{
		{
			name:   "none leaves text alone",
			text:   "see https://example.com/x",
			policy: model.LinkNone,
			group:  "My Group",
			want:   "see https://example.com/x",
		},
		{
			name:   "source only",
			text:   "see https://example.com/x",
			policy: model.LinkSourceOnly,
			group:  "My Group",
			want:   "see https://example.com/x?utm_source=broadcast",
		},
		{
			name:   "medium only",
			text:   "see https://example.com/x",
			policy: model.LinkMediumOnly,
			group:  "My Group!",
			want:   "see https://example.com/x?utm_medium=mygroup",
		},
		{
			name:   "all with existing query",
			text:   "https://example.com/x?a=1",
			policy: model.LinkAll,
			group:  "Deals 24/7",
			want:   "https://example.com/x?a=1&utm_source=broadcast&utm_medium=deals247",
		},
		{
			name:   "multiple urls",
			text:   "https://a.example and http://b.example",
			policy: model.LinkSourceOnly,
			group:  "g",
			want:   "https://a.example?utm_source=broadcast and http://b.example?utm_source=broadcast",
		},
		{
			name:   "no urls untouched",
			text:   "plain text",
			policy: model.LinkAll,
			group:  "g",
			want:   "plain text",
		},
		{
			name:   "trailing sentence period stays outside",
			text:   "see https://example.com.",
			policy: model.LinkSourceOnly,
			group:  "g",
			want:   "see https://example.com?utm_source=broadcast.",
		},
		{
			name:   "closing paren stays outside",
			text:   "(details: https://example.com/x)",
			policy: model.LinkAll,
			group:  "My Group",
			want:   "(details: https://example.com/x?utm_source=broadcast&utm_medium=mygroup)",
		},
		{
			name:   "medium empty after sanitize",
			text:   "https://example.com",
			policy: model.LinkMediumOnly,
			group:  "!!!",
			want:   "https://example.com",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := RewriteLinks(tt.text, tt.policy, tt.group)
			if got != tt.want {
				t.Fatalf("RewriteLinks = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeGroupName(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"My Group", "mygroup"},
		{"Deals 24/7", "deals247"},
		{"ALLCAPS", "allcaps"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeGroupName(tt.in); got != tt.want {
			t.Fatalf("SanitizeGroupName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
