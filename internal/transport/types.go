// Package transport defines the contract between the core and the messaging
// protocol client. The wire implementation (connecting, authenticating,
// framing) lives outside this repo; the core only consumes this API.
package transport

import "context"

// Credentials identify one account session. Payload is opaque to the core;
// it is stored and handed back to Connect verbatim.
type Credentials struct {
	AccountID string
	Payload   []byte
}

type PresenceState string

const (
	PresenceComposing PresenceState = "composing"
	PresencePaused    PresenceState = "paused"
)

// CloseReason classifies a sessionClosed event.
type CloseReason int

const (
	// CloseDropped is an involuntary disconnect; the session may be
	// re-established with the same credentials.
	CloseDropped CloseReason = iota
	// CloseLoggedOut means the provider invalidated the session. Stored
	// credentials are dead and must be purged.
	CloseLoggedOut
)

type EventKind int

const (
	EventSessionOpened EventKind = iota
	EventSessionClosed
	EventInboundMessage
	EventCredentialsRotated
	EventQRChallenge
)

// Event is one item on a session's event stream. Ordering is preserved per
// session.
type Event struct {
	Kind        EventKind
	Reason      CloseReason // EventSessionClosed
	Inbound     *Inbound    // EventInboundMessage
	Credentials Credentials // EventCredentialsRotated
	QR          QRChallenge // EventQRChallenge
}

// Inbound is a message received on the session, used as a manual broadcast
// trigger.
type Inbound struct {
	ChatJID   string
	SenderJID string
	Text      string
	FromGroup bool
}

// QRChallenge is a pairing challenge the user must scan to (re-)authenticate.
type QRChallenge struct {
	Payload string
}

type Participant struct {
	JID   string
	Admin bool
}

type GroupMeta struct {
	JID          string
	Name         string
	Participants []Participant
}

// GroupSnapshot is a point-in-time view of all groups the session belongs
// to. The slice order is the stable iteration order used during fan-out.
type GroupSnapshot struct {
	Groups []GroupMeta
}

func (s GroupSnapshot) Lookup(jid string) (GroupMeta, bool) {
	for _, g := range s.Groups {
		if g.JID == jid {
			return g, true
		}
	}
	return GroupMeta{}, false
}

func (s GroupSnapshot) Len() int { return len(s.Groups) }

// Session is one live connection. All methods are safe for concurrent use.
// Send calls block until the protocol client reports success or failure;
// their timeout behavior is the client's concern.
type Session interface {
	// Events returns the session's event stream. The channel is closed
	// when the session terminates.
	Events() <-chan Event

	SendText(ctx context.Context, groupJID, text string) error
	SendMedia(ctx context.Context, groupJID string, payload []byte, caption string) error
	SendForward(ctx context.Context, groupJID string, payload []byte) error
	PresenceUpdate(ctx context.Context, groupJID string, state PresenceState) error

	FetchAllGroupMetadata(ctx context.Context) (GroupSnapshot, error)

	// Logout invalidates the session server-side. Close tears down the
	// local connection without logging out.
	Logout(ctx context.Context) error
	Close() error
}

// Client establishes sessions.
type Client interface {
	Connect(ctx context.Context, creds Credentials) (Session, error)
}
