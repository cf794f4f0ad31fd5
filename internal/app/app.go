// Package app wires configuration, storage, the engines and the protocol
// client into one runnable daemon.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"wabcast/internal/config"
	"wabcast/internal/conn"
	"wabcast/internal/dispatch"
	"wabcast/internal/eventbus"
	"wabcast/internal/model"
	"wabcast/internal/reconcile"
	"wabcast/internal/schedule"
	"wabcast/internal/storage"
	"wabcast/internal/transport"
	logx "wabcast/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	bus    eventbus.Bus
	store  *storage.Store
	reg    *conn.Registry
	disp   *dispatch.Engine
	sched  *schedule.Engine
	recon  *reconcile.Reconciler
	client transport.Client

	tickInterval time.Duration
	refreshMin   time.Duration
	backoffBase  time.Duration
	backoffMax   time.Duration

	cron *cron.Cron

	mu      sync.Mutex
	cancel  context.CancelFunc
	g       *errgroup.Group
	runCtx  context.Context
	pumping map[string]bool
}

// New builds the daemon from the config file. The protocol client is
// injected so the core stays independent of any wire implementation.
func New(cfgPath string, client transport.Client) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bus := eventbus.New()
	reg := conn.NewRegistry()
	disp := dispatch.New(bus, log.With(logx.String("comp", "dispatch")))
	sched := schedule.New(schedule.Config{
		GraceWindow: cfg.GraceWindowOr(10 * time.Minute),
		MediaDir:    cfg.MediaDir,
	}, store, reg, disp, bus, log.With(logx.String("comp", "schedule")))
	recon := reconcile.New(store, bus, log.With(logx.String("comp", "reconcile")))

	base, max := cfg.Reconnect.Backoff()

	return &App{
		cfgm:         cfgm,
		logs:         logs,
		log:          log,
		bus:          bus,
		store:        store,
		reg:          reg,
		disp:         disp,
		sched:        sched,
		recon:        recon,
		client:       client,
		tickInterval: cfg.TickIntervalOr(time.Minute),
		refreshMin:   cfg.GroupRefreshMinIntervalOr(5 * time.Minute),
		backoffBase:  base,
		backoffMax:   max,
		pumping:      map[string]bool{},
	}, nil
}

// Bus exposes the observer surface (GUI bridges subscribe here).
func (a *App) Bus() eventbus.Bus { return a.bus }

// Dispatch exposes the queue operations (pause/resume/reorder).
func (a *App) Dispatch() *dispatch.Engine { return a.disp }

// Start brings up all services and connects every bot with stored
// credentials. It returns once startup is complete; the daemon then runs
// until Stop or a fatal error.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	a.mu.Lock()
	a.cancel = cancel
	a.g = g
	a.runCtx = gctx
	a.mu.Unlock()

	a.disp.Start(gctx)

	bots, err := a.store.ListBots(gctx)
	if err != nil {
		cancel()
		return fmt.Errorf("load bots: %w", err)
	}
	for _, b := range bots {
		if err := a.registerBot(gctx, b); err != nil {
			cancel()
			return err
		}
	}

	if err := a.sched.LoadForToday(gctx, time.Now()); err != nil {
		// Non-fatal: Tick rebuilds the cache on its next day-key check.
		a.log.Warn("initial schedule load failed", logx.Err(err))
	}

	a.cron = cron.New()
	if _, err := a.cron.AddFunc(fmt.Sprintf("@every %s", a.tickInterval), func() {
		a.sched.Tick(gctx, time.Now())
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule tick: %w", err)
	}
	a.cron.Start()

	g.Go(func() error { return a.cfgm.Watch(gctx) })
	g.Go(func() error { a.watchConfig(gctx); return nil })

	a.log.Info("started",
		logx.Int("bots", len(bots)),
		logx.Duration("tick", a.tickInterval))
	return nil
}

// Stop shuts everything down; ctx bounds how long to wait for workers.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	g := a.g
	a.cancel = nil
	a.g = nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}

	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	cancel()
	a.disp.Stop(ctx)

	if g != nil {
		done := make(chan struct{})
		go func() { _ = g.Wait(); close(done) }()
		select {
		case <-done:
		case <-ctx.Done():
			a.log.Warn("shutdown wait timed out")
		}
	}

	err := a.store.Close()
	a.log.Info("stopped")
	a.logs.Close()
	return err
}

// registerBot creates the connection, its dispatch worker and its broadcast
// target set, then connects if credentials are stored.
func (a *App) registerBot(ctx context.Context, b model.Bot) error {
	c := conn.New(b.ID, b.Settings, a.refreshMin, a.bus, a.log)
	a.reg.Add(c)
	a.disp.Register(c)
	if err := a.reloadTargets(ctx, b.ID); err != nil {
		return fmt.Errorf("bot %s targets: %w", b.ID, err)
	}
	if len(b.Credentials) > 0 {
		a.startPump(c, transport.Credentials{AccountID: b.Number, Payload: b.Credentials})
	}
	return nil
}

// AddBot persists a new bot and wires it up immediately. Connection starts
// on Activate (pairing) since a fresh bot has no credentials.
func (a *App) AddBot(ctx context.Context, b model.Bot) error {
	b.Settings = b.Settings.Normalized()
	if err := a.store.SaveBot(ctx, b); err != nil {
		return err
	}
	return a.registerBot(a.runContext(), b)
}

// ActivateBot (re-)establishes a bot's session. With no stored credentials
// the protocol client runs its pairing flow, surfacing a QR challenge on
// the bus.
func (a *App) ActivateBot(ctx context.Context, botID string) error {
	c, ok := a.reg.Get(botID)
	if !ok {
		return fmt.Errorf("unknown bot %s", botID)
	}
	b, err := a.store.GetBot(ctx, botID)
	if err != nil {
		return err
	}
	a.startPump(c, transport.Credentials{AccountID: b.Number, Payload: b.Credentials})
	return nil
}

// DeactivateBot is the explicit user teardown: session closed, queue
// dropped, no auto-reconnect.
func (a *App) DeactivateBot(botID string) {
	c, ok := a.reg.Get(botID)
	if !ok {
		return
	}
	sess := c.Session()
	c.Deactivate()
	if sess != nil {
		_ = sess.Close()
	}
	// A fresh worker means an empty queue.
	a.disp.Unregister(botID)
	a.disp.Register(c)
}

// SetGroupBroadcast flips a group's membership in the bot's fan-out set and
// pushes the updated targets and stats.
func (a *App) SetGroupBroadcast(ctx context.Context, botID, groupJID string, on bool) error {
	if err := a.store.SetBroadcast(ctx, botID, groupJID, on); err != nil {
		return err
	}
	if err := a.reloadTargets(ctx, botID); err != nil {
		return err
	}
	stats, err := a.store.BroadcastStats(ctx, botID)
	if err != nil {
		return err
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeGroupStats, BotID: botID, Data: stats})
	return nil
}

// reloadTargets pushes the persisted broadcast set into the dispatch worker.
func (a *App) reloadTargets(ctx context.Context, botID string) error {
	assocs, err := a.store.ListBotGroups(ctx, botID)
	if err != nil {
		return err
	}
	targets := make([]string, 0, len(assocs))
	for _, bg := range assocs {
		if bg.Broadcast {
			targets = append(targets, bg.GroupJID)
		}
	}
	a.disp.SetBroadcastTargets(botID, targets)
	return nil
}

func (a *App) runContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runCtx != nil {
		return a.runCtx
	}
	return context.Background()
}

// watchConfig applies live logging changes from accepted config reloads.
func (a *App) watchConfig(ctx context.Context) {
	ch := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("logging config applied", logx.String("level", cfg.Logging.Level))
		}
	}
}
