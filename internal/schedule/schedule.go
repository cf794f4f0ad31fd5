// Package schedule evaluates calendar recurrences and feeds due broadcasts
// into the dispatch queues.
package schedule

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"wabcast/internal/conn"
	"wabcast/internal/eventbus"
	"wabcast/internal/model"
	logx "wabcast/pkg/logx"
)

// Store is the persistence surface the engine needs. *storage.Store
// satisfies it.
type Store interface {
	SchedulesActiveOn(ctx context.Context, date time.Time) ([]model.Schedule, error)
	ScheduleDetail(ctx context.Context, id int64) (model.Schedule, error)
	UpdateScheduleLastRun(ctx context.Context, id int64, ts time.Time) error
	CreateMessage(ctx context.Context, m model.Message, targetBotIDs []string) (string, error)
}

// Enqueuer hands a built message to a bot's dispatch queue.
type Enqueuer interface {
	Enqueue(botID string, m model.Message)
}

type Config struct {
	// GraceWindow is how long after its due minute a schedule may still
	// fire. Ticks are periodic polls, so due times must tolerate jitter;
	// beyond the window a slot is dropped rather than fired stale.
	GraceWindow time.Duration
	// MediaDir anchors relative media references.
	MediaDir string
}

const defaultGraceWindow = 10 * time.Minute

// entry is the cached due-time list of one schedule for the current day.
type entry struct {
	sched model.Schedule // lite form
	due   []int          // minute-of-day, sorted ascending, unique
}

// Engine owns the in-memory today cache. Tick is non-reentrant: overlapping
// invocations are skipped, not queued.
type Engine struct {
	cfg   Config
	store Store
	reg   *conn.Registry
	enq   Enqueuer
	bus   eventbus.Bus
	log   logx.Logger

	tickMu sync.Mutex // serializes Tick

	mu      sync.Mutex
	dayKey  string
	entries map[int64]*entry
}

func New(cfg Config, store Store, reg *conn.Registry, enq Enqueuer, bus eventbus.Bus, log logx.Logger) *Engine {
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = defaultGraceWindow
	}
	return &Engine{
		cfg:     cfg,
		store:   store,
		reg:     reg,
		enq:     enq,
		bus:     bus,
		log:     log,
		entries: map[int64]*entry{},
	}
}

func dayKeyOf(t time.Time) string { return t.Format("2006-01-02") }

// LoadForToday rebuilds the cache wholesale from persistence for the given
// date.
func (e *Engine) LoadForToday(ctx context.Context, date time.Time) error {
	scheds, err := e.store.SchedulesActiveOn(ctx, date)
	if err != nil {
		return err
	}

	entries := make(map[int64]*entry, len(scheds))
	for _, s := range scheds {
		due := s.Recurrence.DueMinutesOn(date)
		if len(due) == 0 {
			continue
		}
		entries[s.ID] = &entry{sched: s, due: due}
	}

	e.mu.Lock()
	e.dayKey = dayKeyOf(date)
	e.entries = entries
	e.mu.Unlock()

	e.log.Debug("today cache rebuilt",
		logx.String("day", dayKeyOf(date)),
		logx.Int("schedules", len(entries)))
	return nil
}

// DueTimes exposes the cached due minutes of a schedule (for tests and
// status surfaces). The second return is false when the schedule is not
// cached.
func (e *Engine) DueTimes(id int64) ([]int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.entries[id]
	if !ok {
		return nil, false
	}
	return append([]int(nil), en.due...), true
}

// Tick evaluates all cached schedules against now. It reloads the cache
// first when the day has changed, which covers both the exact-midnight
// refresh and any missed boundary after sleep/suspend.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	if !e.tickMu.TryLock() {
		e.log.Debug("tick overlap skipped")
		return
	}
	defer e.tickMu.Unlock()

	e.mu.Lock()
	stale := e.dayKey != dayKeyOf(now)
	e.mu.Unlock()
	if stale {
		if err := e.LoadForToday(ctx, now); err != nil {
			e.log.Warn("today cache reload failed", logx.Err(err))
			return
		}
	}

	e.mu.Lock()
	ids := make([]int64, 0, len(e.entries))
	for id := range e.entries {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.evalOne(ctx, id, now)
	}
}

func (e *Engine) evalOne(ctx context.Context, id int64, now time.Time) {
	graceMin := int(e.cfg.GraceWindow / time.Minute)
	nowMin := now.Hour()*60 + now.Minute()

	e.mu.Lock()
	en, ok := e.entries[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	var dueTimes, missed, future []int
	for _, m := range en.due {
		switch {
		case m > nowMin:
			future = append(future, m)
		case nowMin-m <= graceMin:
			dueTimes = append(dueTimes, m)
		default:
			missed = append(missed, m)
		}
	}
	sched := en.sched
	e.mu.Unlock()

	if len(dueTimes) == 0 {
		// Nothing inside the grace window. Expired slots that were never
		// fired are dropped so they aren't re-evaluated forever.
		if len(missed) > 0 && !sched.LastRunCovers(now, missed[len(missed)-1]) {
			e.dropDue(id, future)
			e.log.Debug("stale due times dropped",
				logx.Int64("schedule", id),
				logx.Int("dropped", len(missed)))
		}
		return
	}

	lastDue := dueTimes[len(dueTimes)-1]
	if sched.LastRunCovers(now, lastDue) {
		// Slot already satisfied; retire the covered times.
		e.dropDue(id, future)
		return
	}

	eligible := e.eligibleBots(sched.BotIDs)
	if len(eligible) == 0 {
		// LastRun stays untouched: the schedule remains a candidate until
		// a bot becomes eligible or the grace window lapses.
		e.log.Debug("no eligible bots for due schedule", logx.Int64("schedule", id))
		return
	}

	detail, err := e.store.ScheduleDetail(ctx, id)
	if err != nil {
		// Retried next tick while the grace window lasts.
		e.log.Warn("schedule detail unavailable at due time",
			logx.Int64("schedule", id), logx.Err(err))
		return
	}

	msg := model.Message{
		Text:      pickVariant(detail.Texts),
		Media:     e.pickMedia(detail.MediaPaths),
		Origin:    model.OriginScheduled,
		CreatedAt: now,
	}

	msgID, err := e.store.CreateMessage(ctx, msg, eligible)
	if err != nil {
		e.log.Warn("scheduled message persist failed",
			logx.Int64("schedule", id), logx.Err(err))
		return
	}
	msg.ID = msgID

	for _, botID := range eligible {
		e.enq.Enqueue(botID, msg)
	}

	if err := e.store.UpdateScheduleLastRun(ctx, id, now); err != nil {
		e.log.Warn("last-run update failed", logx.Int64("schedule", id), logx.Err(err))
	}

	e.mu.Lock()
	if en, ok := e.entries[id]; ok {
		en.sched.LastRun = now
		en.due = future
		if len(en.due) == 0 {
			delete(e.entries, id)
		}
	}
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleFire, Data: id})
	}
	e.log.Info("schedule fired",
		logx.Int64("schedule", id),
		logx.Int("bots", len(eligible)),
		logx.String("message", msgID))
}

// dropDue replaces a schedule's cached due list, removing the entry when
// nothing remains for today.
func (e *Engine) dropDue(id int64, keep []int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.entries[id]
	if !ok {
		return
	}
	en.due = keep
	if len(en.due) == 0 {
		delete(e.entries, id)
	}
}

func (e *Engine) eligibleBots(botIDs []string) []string {
	var out []string
	for _, id := range botIDs {
		c, ok := e.reg.Get(id)
		if !ok {
			continue
		}
		if c.EligibleForSchedule() {
			out = append(out, id)
		}
	}
	return out
}

// pickVariant selects one non-empty content variant uniformly at random.
func pickVariant(texts []string) string {
	var nonEmpty []string
	for _, t := range texts {
		if t != "" {
			nonEmpty = append(nonEmpty, t)
		}
	}
	if len(nonEmpty) == 0 {
		return ""
	}
	return nonEmpty[rand.Intn(len(nonEmpty))]
}

// pickMedia scans the media references starting at a random offset and
// wrapping, returning the first readable file. First match stops the scan.
func (e *Engine) pickMedia(paths []string) []byte {
	if len(paths) == 0 {
		return nil
	}
	start := rand.Intn(len(paths))
	for i := 0; i < len(paths); i++ {
		p := paths[(start+i)%len(paths)]
		if !filepath.IsAbs(p) && e.cfg.MediaDir != "" {
			p = filepath.Join(e.cfg.MediaDir, p)
		}
		b, err := os.ReadFile(p)
		if err != nil || len(b) == 0 {
			continue
		}
		return b
	}
	return nil
}
