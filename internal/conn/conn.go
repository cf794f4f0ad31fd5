// Package conn tracks the lifecycle of each managed bot connection and owns
// the registry of live connections.
package conn

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"wabcast/internal/eventbus"
	"wabcast/internal/model"
	"wabcast/internal/transport"
	logx "wabcast/pkg/logx"
)

// Progress describes an in-flight send for observers: what is being sent and
// how far through the group fan-out it is.
type Progress struct {
	Preview    string
	GroupIndex int
	GroupTotal int
}

// Snapshot is the observer-facing view of a connection, published on the bus
// at every status change.
type Snapshot struct {
	BotID            string
	State            string
	ManualDisconnect bool
	Progress         *Progress
}

// Conn is one managed messaging identity. State transitions go through
// Transition/Deactivate so illegal edges are rejected and observers stay
// informed.
type Conn struct {
	id  string
	bus eventbus.Bus
	log logx.Logger

	mu               sync.Mutex
	state            State
	manualDisconnect bool
	settings         model.Settings
	session          transport.Session
	snapshot         *transport.GroupSnapshot
	progress         *Progress

	// refresh throttles group metadata refetches to one per min-interval.
	refresh *rate.Limiter
}

func New(id string, settings model.Settings, refreshMin time.Duration, bus eventbus.Bus, log logx.Logger) *Conn {
	if refreshMin <= 0 {
		refreshMin = time.Minute
	}
	return &Conn{
		id:       id,
		bus:      bus,
		log:      log.With(logx.String("bot", id)),
		state:    StateOffline,
		settings: settings.Normalized(),
		refresh:  rate.NewLimiter(rate.Every(refreshMin), 1),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transition moves the connection to a new state, rejecting edges the state
// machine does not allow.
func (c *Conn) Transition(to State) error {
	c.mu.Lock()
	from := c.state
	if !legalTransition(from, to) {
		c.mu.Unlock()
		return fmt.Errorf("conn %s: illegal transition %s -> %s", c.id, from, to)
	}
	c.state = to
	if to == StateOnline || to == StateSending {
		c.manualDisconnect = false
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if from != to {
		c.log.Debug("state changed", logx.String("from", from.String()), logx.String("to", to.String()))
		c.publish(snap)
	}
	return nil
}

// TransitionFrom moves to the target state only when the connection is
// still in the expected source state. A dispatch pass that outlives a
// deactivation or a session drop uses this to stand down without
// overturning the newer state. It reports whether the transition applied.
func (c *Conn) TransitionFrom(from, to State) bool {
	c.mu.Lock()
	if c.state != from || !legalTransition(from, to) {
		c.mu.Unlock()
		return false
	}
	c.state = to
	if to == StateOnline || to == StateSending {
		c.manualDisconnect = false
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if from != to {
		c.log.Debug("state changed", logx.String("from", from.String()), logx.String("to", to.String()))
		c.publish(snap)
	}
	return true
}

// Deactivate is the explicit user-initiated teardown: suppresses
// auto-reconnect and forces the state to Offline regardless of where the
// connection currently is.
func (c *Conn) Deactivate() {
	c.mu.Lock()
	c.manualDisconnect = true
	c.state = StateOffline
	c.session = nil
	c.progress = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Info("deactivated")
	c.publish(snap)
}

// ManualDisconnect reports whether the last teardown was user-initiated
// (which suppresses auto-reconnect).
func (c *Conn) ManualDisconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manualDisconnect
}

// EligibleForDispatch reports whether a dispatch pass may start.
func (c *Conn) EligibleForDispatch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOnline && c.session != nil && c.snapshot != nil
}

// EligibleForSchedule reports whether a scheduled message may target this
// bot. A Disconnected bot is not eligible: it is neither Offline nor
// LoggedOut, but it has no active session to send on.
func (c *Conn) EligibleForSchedule() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return (c.state == StateOnline || c.state == StateSending) && c.session != nil
}

func (c *Conn) Settings() model.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

func (c *Conn) ApplySettings(s model.Settings) {
	c.mu.Lock()
	c.settings = s.Normalized()
	c.mu.Unlock()
}

func (c *Conn) SetSession(s transport.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func (c *Conn) Session() transport.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// InstallSnapshot replaces the known group metadata. The snapshot is
// read-only from the dispatch loop's perspective.
func (c *Conn) InstallSnapshot(snap transport.GroupSnapshot) {
	c.mu.Lock()
	c.snapshot = &snap
	c.mu.Unlock()
}

func (c *Conn) GroupSnapshot() (transport.GroupSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return transport.GroupSnapshot{}, false
	}
	return *c.snapshot, true
}

// AllowRefresh reports whether a metadata refetch is permitted now. Refetch
// storms are avoided by limiting to one refresh per configured interval.
func (c *Conn) AllowRefresh() bool {
	return c.refresh.Allow()
}

// SetProgress publishes the in-flight send descriptor (nil clears it).
func (c *Conn) SetProgress(p *Progress) {
	c.mu.Lock()
	c.progress = p
	snap := c.snapshotLocked()
	c.mu.Unlock()
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeSendProgress, BotID: c.id, Data: snap})
}

func (c *Conn) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Conn) snapshotLocked() Snapshot {
	s := Snapshot{
		BotID:            c.id,
		State:            c.state.String(),
		ManualDisconnect: c.manualDisconnect,
	}
	if c.progress != nil {
		p := *c.progress
		s.Progress = &p
	}
	return s
}

func (c *Conn) publish(snap Snapshot) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeConnStatus, BotID: c.id, Data: snap})
}
