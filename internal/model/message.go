// Package model holds the domain records shared by storage and the engines.
package model

import "time"

// Origin marks how a message came to exist.
type Origin string

const (
	OriginManual    Origin = "manual"
	OriginScheduled Origin = "scheduled"
)

// Message is one broadcast payload. At most one media item is attached.
// A message is persisted once and then enqueued into zero or more bot
// queues; each queue consumes its copy independently.
type Message struct {
	ID        string
	Text      string
	Media     []byte
	Origin    Origin
	CreatedAt time.Time
}

func (m Message) HasMedia() bool { return len(m.Media) > 0 }

// Preview returns a short content preview for progress reporting.
func (m Message) Preview() string {
	const maxPreview = 80
	s := m.Text
	if s == "" && m.HasMedia() {
		s = "<media>"
	}
	if len(s) > maxPreview {
		return s[:maxPreview-3] + "..."
	}
	return s
}
