package dispatch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"wabcast/internal/conn"
	"wabcast/internal/model"
	"wabcast/internal/transport"
	logx "wabcast/pkg/logx"
)

// worker owns one bot's queue and runs its fan-out passes. All queue and
// cursor mutation happens under w.mu; the pass re-reads the cursor at every
// boundary so concurrent mutations can never leave it dangling.
type worker struct {
	c *conn.Conn
	e *Engine

	log logx.Logger

	mu      sync.Mutex
	queue   []model.Message
	cur     cursor
	paused  bool
	sending bool
	targets map[string]struct{}

	wake      chan struct{}
	dead      chan struct{}
	closeOnce sync.Once
}

func newWorker(c *conn.Conn, e *Engine) *worker {
	return &worker{
		c:       c,
		e:       e,
		log:     e.log.With(logx.String("bot", c.ID())),
		targets: map[string]struct{}{},
		wake:    make(chan struct{}, 1),
		dead:    make(chan struct{}),
	}
}

func (w *worker) close() { w.closeOnce.Do(func() { close(w.dead) }) }

func (w *worker) run(ctx context.Context, stopCh <-chan struct{}) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-w.dead:
			return
		case <-w.wake:
			w.pass(ctx, stopCh)
		}
	}
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) enqueue(m model.Message) {
	w.mu.Lock()
	w.queue = append(w.queue, m)
	snap := w.queueSnapshotLocked()
	w.mu.Unlock()

	w.e.publishQueue(snap)
	w.signal()
}

func (w *worker) setPaused(v bool) {
	w.mu.Lock()
	w.paused = v
	remaining := len(w.queue) - w.cur.msg
	w.mu.Unlock()

	if !v && remaining > 0 {
		w.signal()
	}
}

// move swaps queue positions a and b; the cursor follows its message so an
// in-flight fan-out keeps pointing at the same content.
func (w *worker) move(a, b int) {
	w.mu.Lock()
	if a < 0 || b < 0 || a >= len(w.queue) || b >= len(w.queue) {
		w.mu.Unlock()
		return
	}
	w.queue[a], w.queue[b] = w.queue[b], w.queue[a]
	switch w.cur.msg {
	case a:
		w.cur.msg = b
	case b:
		w.cur.msg = a
	}
	snap := w.queueSnapshotLocked()
	w.mu.Unlock()

	w.e.publishQueue(snap)
}

func (w *worker) deleteAt(i int) {
	w.mu.Lock()
	if i < 0 || i >= len(w.queue) {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue[:i], w.queue[i+1:]...)
	if i < w.cur.msg {
		w.cur.msg--
	} else if i == w.cur.msg {
		// The next message slid into the current slot; its fan-out starts over.
		w.cur.group = 0
	}
	if w.cur.msg > len(w.queue) {
		w.cur.msg = len(w.queue)
	}
	snap := w.queueSnapshotLocked()
	w.mu.Unlock()

	w.e.publishQueue(snap)
}

func (w *worker) setTargets(groupJIDs []string) {
	set := make(map[string]struct{}, len(groupJIDs))
	for _, jid := range groupJIDs {
		set[jid] = struct{}{}
	}
	w.mu.Lock()
	w.targets = set
	w.mu.Unlock()
}

func (w *worker) queueSnapshot() QueueSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.queueSnapshotLocked()
}

func (w *worker) queueSnapshotLocked() QueueSnapshot {
	snap := QueueSnapshot{BotID: w.c.ID(), Paused: w.paused}
	for _, m := range w.queue[min(w.cur.msg, len(w.queue)):] {
		snap.Remaining = append(snap.Remaining, QueueItem{ID: m.ID, Preview: m.Preview(), Origin: string(m.Origin)})
	}
	return snap
}

// targetGroups resolves the broadcast set against the metadata snapshot,
// preserving the snapshot's stable iteration order.
func (w *worker) targetGroups(snap transport.GroupSnapshot) []transport.GroupMeta {
	w.mu.Lock()
	set := w.targets
	w.mu.Unlock()

	out := make([]transport.GroupMeta, 0, len(set))
	for _, g := range snap.Groups {
		if _, ok := set[g.JID]; ok {
			out = append(out, g)
		}
	}
	return out
}

// pass runs one dispatch loop to completion, pause, or queue exhaustion.
func (w *worker) pass(ctx context.Context, stopCh <-chan struct{}) {
	sess := w.c.Session()
	snap, haveSnap := w.c.GroupSnapshot()
	st := w.c.State()

	w.mu.Lock()
	if w.sending || w.paused || len(w.queue) == 0 ||
		sess == nil || !haveSnap ||
		(st != conn.StateOnline && st != conn.StateSending) {
		w.mu.Unlock()
		return
	}
	w.sending = true
	w.mu.Unlock()

	// The guard is cleared on every exit path so a later resume/enqueue can
	// restart the loop.
	defer func() {
		w.mu.Lock()
		w.sending = false
		w.mu.Unlock()
	}()

	if err := w.c.Transition(conn.StateSending); err != nil {
		w.log.Warn("cannot enter sending state", logx.Err(err))
		return
	}

	set := w.c.Settings()
	groups := w.targetGroups(snap)

	for {
		// A deactivation or session drop takes the Sending state away
		// mid-pass; the pass must stand down instead of finishing on a dead
		// connection and flipping it back Online.
		if w.c.State() != conn.StateSending {
			w.c.SetProgress(nil)
			w.log.Debug("pass aborted, connection no longer sending")
			return
		}

		w.mu.Lock()
		if w.paused {
			// Cursor preserved; a resume picks up exactly here.
			w.mu.Unlock()
			w.log.Debug("pass paused", logx.Int("msg_idx", w.cur.msg))
			return
		}
		if w.cur.msg >= len(w.queue) {
			// Queue exhausted: drop consumed messages, rewind, go idle.
			w.queue = nil
			w.cur = cursor{}
			snapOut := w.queueSnapshotLocked()
			w.mu.Unlock()

			w.c.SetProgress(nil)
			w.e.publishQueue(snapOut)
			if !w.c.TransitionFrom(conn.StateSending, conn.StateOnline) {
				w.log.Debug("pass finished after the connection state moved on")
			}
			return
		}
		msg := w.queue[w.cur.msg]
		if w.cur.group >= len(groups) {
			// Fan-out for this message is complete.
			w.cur.group = 0
			w.cur.msg++
			more := w.cur.msg < len(w.queue)
			snapOut := w.queueSnapshotLocked()
			w.mu.Unlock()

			w.c.SetProgress(nil)
			w.e.publishQueue(snapOut)
			if more {
				if !w.e.sleep(ctx, stopCh, jittered(set.DelayBetweenMessages)) {
					return
				}
			}
			continue
		}
		gi := w.cur.group
		w.mu.Unlock()

		g := groups[gi]
		w.c.SetProgress(&conn.Progress{
			Preview:    msg.Preview(),
			GroupIndex: gi + 1,
			GroupTotal: len(groups),
		})

		if err := w.sendOne(ctx, stopCh, sess, g, msg, set); err != nil {
			// A failed group never aborts the pass and is not retried; it
			// simply does not receive this message.
			w.log.Warn("send failed",
				logx.String("group", g.JID),
				logx.String("message", msg.ID),
				logx.Err(err))
		}

		w.mu.Lock()
		// Re-validate before advancing: a racing delete may have shifted the
		// cursor under us.
		if w.cur.msg < len(w.queue) && w.queue[w.cur.msg].ID == msg.ID && w.cur.group == gi {
			w.cur.group++
		}
		moreGroups := w.cur.msg < len(w.queue) && w.cur.group < len(groups)
		paused := w.paused
		w.mu.Unlock()

		if moreGroups && !paused {
			if !w.e.sleep(ctx, stopCh, jittered(set.DelayBetweenGroups)) {
				return
			}
		}
	}
}

func (w *worker) sendOne(ctx context.Context, stopCh <-chan struct{}, sess transport.Session, g transport.GroupMeta, msg model.Message, set model.Settings) error {
	// Simulated typing before non-forward sends, at a fixed 50% probability.
	// Pure anti-detection jitter; failures here are irrelevant.
	if set.SendMethod != model.SendForward && rand.Intn(2) == 0 {
		_ = sess.PresenceUpdate(ctx, g.JID, transport.PresenceComposing)
		w.e.sleep(ctx, stopCh, time.Duration(500+rand.Intn(2000))*time.Millisecond)
		_ = sess.PresenceUpdate(ctx, g.JID, transport.PresencePaused)
	}

	if set.SendMethod == model.SendForward {
		// Forwarded sends carry the original payload untouched; no link
		// rewriting applies.
		payload := msg.Media
		if len(payload) == 0 {
			payload = []byte(msg.Text)
		}
		return sess.SendForward(ctx, g.JID, payload)
	}

	text := RewriteLinks(msg.Text, set.LinkPolicy, g.Name)
	if msg.HasMedia() {
		return sess.SendMedia(ctx, g.JID, msg.Media, text)
	}
	return sess.SendText(ctx, g.JID, text)
}

// jittered applies the throttle floor and the ±1s jitter.
func jittered(d time.Duration) time.Duration {
	if d < time.Second {
		d = time.Second
	}
	d += time.Duration(rand.Int63n(int64(2*time.Second))) - time.Second
	if d < 0 {
		d = 0
	}
	return d
}
