package dispatch

// QueueSnapshot is the observer payload published whenever a bot's queue
// changes.
type QueueSnapshot struct {
	BotID     string
	Paused    bool
	Remaining []QueueItem
}

type QueueItem struct {
	ID      string
	Preview string
	Origin  string
}

// cursor is the resumable position of a dispatch pass: which queued message
// is being fanned out and which group within that fan-out is next.
//
// Invariant: both offsets always point into the current queue/target
// snapshot; every queue mutation clamps them inside the worker's critical
// section.
type cursor struct {
	msg   int
	group int
}
