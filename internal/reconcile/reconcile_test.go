package reconcile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"wabcast/internal/eventbus"
	"wabcast/internal/model"
	"wabcast/internal/storage"
	"wabcast/internal/transport"
	logx "wabcast/pkg/logx"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func memberSet(t *testing.T, st *storage.Store, groupJID string) map[string]bool {
	t.Helper()
	ms, err := st.ListGroupMembers(context.Background(), groupJID)
	if err != nil {
		t.Fatalf("ListGroupMembers: %v", err)
	}
	out := map[string]bool{}
	for _, m := range ms {
		out[m.MemberJID] = m.Admin
	}
	return out
}

func TestReconcileThreeWayDiff(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	r := New(st, nil, logx.Nop())
	ctx := context.Background()

	snap1 := transport.GroupSnapshot{Groups: []transport.GroupMeta{{
		JID:  "g1@g",
		Name: "Alpha",
		Participants: []transport.Participant{
			{JID: "m1@u", Admin: true},
			{JID: "m2@u"},
		},
	}}}
	if err := r.Reconcile(ctx, "b1", snap1); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got := memberSet(t, st, "g1@g")
	if len(got) != 2 || !got["m1@u"] || got["m2@u"] {
		t.Fatalf("members after first reconcile = %v", got)
	}
	assocs, err := st.ListBotGroups(ctx, "b1")
	if err != nil || len(assocs) != 1 || assocs[0].Broadcast {
		t.Fatalf("assocs = %v err = %v, want one non-broadcast", assocs, err)
	}

	// m1 leaves, m3 joins, m2 becomes admin, group renamed.
	snap2 := transport.GroupSnapshot{Groups: []transport.GroupMeta{{
		JID:  "g1@g",
		Name: "Alpha Renamed",
		Participants: []transport.Participant{
			{JID: "m2@u", Admin: true},
			{JID: "m3@u"},
		},
	}}}
	if err := r.Reconcile(ctx, "b1", snap2); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got = memberSet(t, st, "g1@g")
	if len(got) != 2 {
		t.Fatalf("members after second reconcile = %v", got)
	}
	if _, there := got["m1@u"]; there {
		t.Fatal("departed member not removed")
	}
	if !got["m2@u"] {
		t.Fatal("admin flag not refreshed")
	}
	if adm, there := got["m3@u"]; !there || adm {
		t.Fatal("new member not inserted as non-admin")
	}

	// Idempotence: same snapshot converges to the same state.
	if err := r.Reconcile(ctx, "b1", snap2); err != nil {
		t.Fatalf("Reconcile (repeat): %v", err)
	}
	again := memberSet(t, st, "g1@g")
	if len(again) != 2 || !again["m2@u"] || again["m3@u"] {
		t.Fatalf("repeat reconcile changed state: %v", again)
	}
}

func TestReconcileDropsDepartedGroupAssociation(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	r := New(st, nil, logx.Nop())
	ctx := context.Background()

	two := transport.GroupSnapshot{Groups: []transport.GroupMeta{
		{JID: "g1@g", Name: "Alpha"},
		{JID: "g2@g", Name: "Beta"},
	}}
	if err := r.Reconcile(ctx, "b1", two); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if err := st.SetBroadcast(ctx, "b1", "g1@g", true); err != nil {
		t.Fatalf("SetBroadcast: %v", err)
	}

	// The bot left g2; its association goes, g1 keeps its broadcast flag.
	one := transport.GroupSnapshot{Groups: []transport.GroupMeta{
		{JID: "g1@g", Name: "Alpha"},
	}}
	if err := r.Reconcile(ctx, "b1", one); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	assocs, err := st.ListBotGroups(ctx, "b1")
	if err != nil {
		t.Fatalf("ListBotGroups: %v", err)
	}
	if len(assocs) != 1 || assocs[0].GroupJID != "g1@g" || !assocs[0].Broadcast {
		t.Fatalf("assocs = %+v, want g1 broadcast kept", assocs)
	}
}

func TestReconcilePublishesStats(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()
	r := New(st, bus, logx.Nop())
	ctx := context.Background()

	snap := transport.GroupSnapshot{Groups: []transport.GroupMeta{{
		JID:          "g1@g",
		Name:         "Alpha",
		Participants: []transport.Participant{{JID: "m1@u"}, {JID: "m2@u"}},
	}}}
	if err := r.Reconcile(ctx, "b1", snap); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if err := st.SetBroadcast(ctx, "b1", "g1@g", true); err != nil {
		t.Fatalf("SetBroadcast: %v", err)
	}
	if err := r.Reconcile(ctx, "b1", snap); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	// Publish is synchronous into the buffered channel, so both stats events
	// are already queued.
	var last model.GroupStats
	for drained := false; !drained; {
		select {
		case ev := <-ch:
			if ev.Type == eventbus.TypeGroupStats {
				last = ev.Data.(model.GroupStats)
			}
		default:
			drained = true
		}
	}
	if last.BotID != "b1" || last.BroadcastGroups != 1 || last.BroadcastMember != 2 {
		t.Fatalf("stats = %+v, want 1 group / 2 members", last)
	}
}
