package conn

import (
	"context"
	"testing"
	"time"

	"wabcast/internal/eventbus"
	"wabcast/internal/model"
	"wabcast/internal/transport"
	logx "wabcast/pkg/logx"
)

func TestLegalTransitions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateOffline, StateOnline, true},
		{StateOffline, StateSending, false},
		{StateOffline, StateDisconnected, false},
		{StateOnline, StateSending, true},
		{StateOnline, StateDisconnected, true},
		{StateOnline, StateOffline, false},
		{StateSending, StateOnline, true},
		{StateSending, StateDisconnected, true},
		{StateDisconnected, StateOnline, true},
		{StateDisconnected, StateOffline, true},
		{StateLoggedOut, StateOffline, true},
		{StateLoggedOut, StateOnline, false},
		// any state may be logged out by the provider
		{StateOffline, StateLoggedOut, true},
		{StateSending, StateLoggedOut, true},
		// self-transitions are tolerated
		{StateOnline, StateOnline, true},
	}
	for _, tt := range tests {
		if got := legalTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("legalTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	t.Parallel()
	c := New("b1", model.Settings{}, time.Minute, nil, logx.Nop())
	if err := c.Transition(StateSending); err == nil {
		t.Fatal("expected error for offline -> sending")
	}
	if c.State() != StateOffline {
		t.Fatalf("state changed on rejected transition: %s", c.State())
	}
}

func TestTransitionPublishesStatus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	c := New("b1", model.Settings{}, time.Minute, bus, logx.Nop())
	if err := c.Transition(StateOnline); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Type != eventbus.TypeConnStatus || ev.BotID != "b1" {
			t.Fatalf("unexpected event %+v", ev)
		}
		snap, ok := ev.Data.(Snapshot)
		if !ok || snap.State != "online" {
			t.Fatalf("unexpected snapshot %+v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no status event published")
	}
}

func TestTransitionFromRequiresCurrentState(t *testing.T) {
	t.Parallel()
	c := New("b1", model.Settings{}, time.Minute, nil, logx.Nop())
	if err := c.Transition(StateOnline); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := c.Transition(StateSending); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	// The happy path applies like a plain transition.
	if !c.TransitionFrom(StateSending, StateOnline) {
		t.Fatal("sending -> online should apply")
	}
	if c.State() != StateOnline {
		t.Fatalf("state = %s, want online", c.State())
	}

	// A deactivation that races the end of a pass wins: the stale
	// sending -> online edge must not apply and must not touch the flag.
	if err := c.Transition(StateSending); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	c.Deactivate()
	if c.TransitionFrom(StateSending, StateOnline) {
		t.Fatal("stale transition applied over a deactivation")
	}
	if c.State() != StateOffline {
		t.Fatalf("state = %s, want offline", c.State())
	}
	if !c.ManualDisconnect() {
		t.Fatal("manual disconnect flag lost to a stale transition")
	}
}

func TestSetProgressPublishesProgressEvent(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	c := New("b1", model.Settings{}, time.Minute, bus, logx.Nop())
	c.SetProgress(&Progress{Preview: "hi", GroupIndex: 1, GroupTotal: 3})

	select {
	case ev := <-ch:
		if ev.Type != eventbus.TypeSendProgress || ev.BotID != "b1" {
			t.Fatalf("unexpected event %+v", ev)
		}
		snap, ok := ev.Data.(Snapshot)
		if !ok || snap.Progress == nil || snap.Progress.GroupIndex != 1 || snap.Progress.GroupTotal != 3 {
			t.Fatalf("unexpected snapshot %+v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no progress event published")
	}
}

func TestDeactivateForcesOfflineAndSetsManualFlag(t *testing.T) {
	t.Parallel()
	c := New("b1", model.Settings{}, time.Minute, nil, logx.Nop())
	if err := c.Transition(StateOnline); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	c.SetSession(nopSession{})

	c.Deactivate()
	if c.State() != StateOffline {
		t.Fatalf("state = %s, want offline", c.State())
	}
	if !c.ManualDisconnect() {
		t.Fatal("manual disconnect flag not set")
	}
	if c.Session() != nil {
		t.Fatal("session not cleared")
	}

	// Coming back online clears the manual flag.
	if err := c.Transition(StateOnline); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if c.ManualDisconnect() {
		t.Fatal("manual disconnect flag survived reconnect")
	}
}

func TestEligibility(t *testing.T) {
	t.Parallel()
	c := New("b1", model.Settings{}, time.Minute, nil, logx.Nop())
	if c.EligibleForDispatch() || c.EligibleForSchedule() {
		t.Fatal("offline conn must not be eligible")
	}

	if err := c.Transition(StateOnline); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if c.EligibleForDispatch() {
		t.Fatal("dispatch eligibility requires session and snapshot")
	}
	c.SetSession(nopSession{})
	c.InstallSnapshot(transport.GroupSnapshot{})
	if !c.EligibleForDispatch() || !c.EligibleForSchedule() {
		t.Fatal("online conn with session should be eligible")
	}

	// A paused pass leaves the state at Sending; schedules may still target it.
	if err := c.Transition(StateSending); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if c.EligibleForDispatch() {
		t.Fatal("sending conn must not start another pass")
	}
	if !c.EligibleForSchedule() {
		t.Fatal("sending conn should stay schedule-eligible")
	}
}

func TestAllowRefreshThrottles(t *testing.T) {
	t.Parallel()
	c := New("b1", model.Settings{}, time.Hour, nil, logx.Nop())
	if !c.AllowRefresh() {
		t.Fatal("first refresh should pass")
	}
	if c.AllowRefresh() {
		t.Fatal("second refresh within the interval should be throttled")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Add(New("b2", model.Settings{}, time.Minute, nil, logx.Nop()))
	r.Add(New("b1", model.Settings{}, time.Minute, nil, logx.Nop()))

	if _, ok := r.Get("b1"); !ok {
		t.Fatal("b1 not found")
	}
	all := r.All()
	if len(all) != 2 || all[0].ID() != "b1" || all[1].ID() != "b2" {
		t.Fatalf("All() not sorted by id: %v", []string{all[0].ID(), all[1].ID()})
	}
	r.Remove("b1")
	if _, ok := r.Get("b1"); ok {
		t.Fatal("b1 still present after Remove")
	}
}

// nopSession satisfies transport.Session for eligibility tests.
type nopSession struct{}

func (nopSession) Events() <-chan transport.Event { return nil }
func (nopSession) SendText(context.Context, string, string) error {
	return nil
}
func (nopSession) SendMedia(context.Context, string, []byte, string) error {
	return nil
}
func (nopSession) SendForward(context.Context, string, []byte) error {
	return nil
}
func (nopSession) PresenceUpdate(context.Context, string, transport.PresenceState) error {
	return nil
}
func (nopSession) FetchAllGroupMetadata(context.Context) (transport.GroupSnapshot, error) {
	return transport.GroupSnapshot{}, nil
}
func (nopSession) Logout(context.Context) error { return nil }
func (nopSession) Close() error                 { return nil }
