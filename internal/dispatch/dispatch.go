package dispatch

import (
	"context"
	"sync"
	"time"

	"wabcast/internal/conn"
	"wabcast/internal/eventbus"
	"wabcast/internal/model"
	logx "wabcast/pkg/logx"
)

// Engine runs one throttled fan-out loop per registered bot. Each bot's
// queue, cursor and broadcast set are owned exclusively by its worker.
type Engine struct {
	mu      sync.Mutex
	workers map[string]*worker
	runCtx  context.Context
	stopCh  chan struct{}
	wg      sync.WaitGroup

	bus eventbus.Bus
	log logx.Logger

	// sleep is swapped out in tests to avoid real throttling delays.
	// It returns false when interrupted by shutdown.
	sleep func(ctx context.Context, stopCh <-chan struct{}, d time.Duration) bool
}

func New(bus eventbus.Bus, log logx.Logger) *Engine {
	return &Engine{
		workers: map[string]*worker{},
		bus:     bus,
		log:     log,
		sleep:   sleepFor,
	}
}

// Start launches workers for every registered bot. Bots registered after
// Start get their worker immediately.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopCh != nil {
		return
	}
	e.runCtx = ctx
	e.stopCh = make(chan struct{})
	for _, w := range e.workers {
		e.spawnLocked(w)
	}
	e.log.Info("dispatch engine started", logx.Int("bots", len(e.workers)))
}

func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if e.stopCh == nil {
		e.mu.Unlock()
		return
	}
	stopCh := e.stopCh
	e.stopCh = nil
	e.runCtx = nil
	e.mu.Unlock()

	close(stopCh)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.log.Info("dispatch engine stopped")
	case <-ctx.Done():
		e.log.Warn("dispatch engine stop timed out; workers exiting in background")
	}
}

// Register creates the dispatch worker for a bot connection.
func (e *Engine) Register(c *conn.Conn) {
	if c == nil {
		return
	}
	w := newWorker(c, e)
	e.mu.Lock()
	e.workers[c.ID()] = w
	if e.stopCh != nil {
		e.spawnLocked(w)
	}
	e.mu.Unlock()
}

// Unregister drops a bot's worker and its queue. Used on user deactivation:
// the queue is not preserved.
func (e *Engine) Unregister(botID string) {
	e.mu.Lock()
	w := e.workers[botID]
	delete(e.workers, botID)
	e.mu.Unlock()
	if w != nil {
		w.close()
	}
}

func (e *Engine) spawnLocked(w *worker) {
	stopCh := e.stopCh
	runCtx := e.runCtx
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		w.run(runCtx, stopCh)
	}()
}

func (e *Engine) worker(botID string) *worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workers[botID]
}

// Enqueue appends a message to the bot's queue and kicks the loop if idle.
// Unknown bots are silently ignored.
func (e *Engine) Enqueue(botID string, m model.Message) {
	w := e.worker(botID)
	if w == nil {
		e.log.Debug("enqueue for unknown bot ignored", logx.String("bot", botID))
		return
	}
	w.enqueue(m)
}

// Pause sets the cooperative pause flag. The loop observes it between group
// sends and between messages; an in-flight send completes.
func (e *Engine) Pause(botID string) {
	if w := e.worker(botID); w != nil {
		w.setPaused(true)
	}
}

// Resume clears the pause flag and re-triggers the loop if messages remain.
func (e *Engine) Resume(botID string) {
	if w := e.worker(botID); w != nil {
		w.setPaused(false)
	}
}

// MoveUp swaps the queued message at idx with its predecessor. Invalid
// indices are a no-op.
func (e *Engine) MoveUp(botID string, idx int) {
	if w := e.worker(botID); w != nil {
		w.move(idx, idx-1)
	}
}

// MoveDown swaps the queued message at idx with its successor. Invalid
// indices are a no-op.
func (e *Engine) MoveDown(botID string, idx int) {
	if w := e.worker(botID); w != nil {
		w.move(idx, idx+1)
	}
}

// DeleteAt removes the queued message at idx. Invalid indices are a no-op.
func (e *Engine) DeleteAt(botID string, idx int) {
	if w := e.worker(botID); w != nil {
		w.deleteAt(idx)
	}
}

// SetBroadcastTargets replaces the bot's destination-group set.
func (e *Engine) SetBroadcastTargets(botID string, groupJIDs []string) {
	if w := e.worker(botID); w != nil {
		w.setTargets(groupJIDs)
	}
}

// Queue returns the current queue snapshot for a bot.
func (e *Engine) Queue(botID string) (QueueSnapshot, bool) {
	w := e.worker(botID)
	if w == nil {
		return QueueSnapshot{}, false
	}
	return w.queueSnapshot(), true
}

func (e *Engine) publishQueue(snap QueueSnapshot) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeQueueChanged, BotID: snap.BotID, Data: snap})
}

func sleepFor(ctx context.Context, stopCh <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	case <-t.C:
		return true
	}
}
