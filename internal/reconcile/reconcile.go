// Package reconcile mirrors the transport's group metadata into persistence.
package reconcile

import (
	"context"
	"time"

	"wabcast/internal/eventbus"
	"wabcast/internal/model"
	"wabcast/internal/transport"
	logx "wabcast/pkg/logx"
)

// Store is the persistence surface the reconciler needs. *storage.Store
// satisfies it.
type Store interface {
	UpsertGroup(ctx context.Context, g model.Group) error
	EnsureBotGroup(ctx context.Context, botID, groupJID string) error
	DeleteBotGroup(ctx context.Context, botID, groupJID string) error
	ListBotGroups(ctx context.Context, botID string) ([]model.BotGroup, error)
	UpsertMember(ctx context.Context, m model.Member) error
	DeleteMember(ctx context.Context, groupJID, memberJID string) error
	ListGroupMembers(ctx context.Context, groupJID string) ([]model.Member, error)
	BroadcastStats(ctx context.Context, botID string) (model.GroupStats, error)
}

// Reconciler folds a live group-metadata snapshot into the database so that
// stored rows converge to the snapshot. Running it twice with the same
// snapshot is a no-op the second time.
type Reconciler struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
}

func New(store Store, bus eventbus.Bus, log logx.Logger) *Reconciler {
	return &Reconciler{store: store, bus: bus, log: log}
}

// Reconcile applies a three-way diff per group: members present only in the
// snapshot are inserted, members present only in storage are deleted, and
// members present in both get their admin flag refreshed. Group associations
// the bot no longer holds are removed. Broadcast flags on surviving
// associations are never touched.
func (r *Reconciler) Reconcile(ctx context.Context, botID string, snap transport.GroupSnapshot) error {
	started := time.Now()

	live := make(map[string]struct{}, snap.Len())
	for _, g := range snap.Groups {
		live[g.JID] = struct{}{}
		if err := r.reconcileGroup(ctx, botID, g); err != nil {
			return err
		}
	}

	// Associations for groups the bot has left.
	assocs, err := r.store.ListBotGroups(ctx, botID)
	if err != nil {
		return err
	}
	for _, a := range assocs {
		if _, ok := live[a.GroupJID]; ok {
			continue
		}
		if err := r.store.DeleteBotGroup(ctx, botID, a.GroupJID); err != nil {
			return err
		}
		r.log.Debug("departed group unlinked",
			logx.String("bot", botID), logx.String("group", a.GroupJID))
	}

	stats, err := r.store.BroadcastStats(ctx, botID)
	if err != nil {
		return err
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeGroupStats, BotID: botID, Data: stats})
	}

	r.log.Info("groups reconciled",
		logx.String("bot", botID),
		logx.Int("groups", snap.Len()),
		logx.Duration("took", time.Since(started)))
	return nil
}

func (r *Reconciler) reconcileGroup(ctx context.Context, botID string, g transport.GroupMeta) error {
	if err := r.store.UpsertGroup(ctx, model.Group{
		JID:  g.JID,
		Name: g.Name,
		Size: len(g.Participants),
	}); err != nil {
		return err
	}
	if err := r.store.EnsureBotGroup(ctx, botID, g.JID); err != nil {
		return err
	}

	stored, err := r.store.ListGroupMembers(ctx, g.JID)
	if err != nil {
		return err
	}
	storedByJID := make(map[string]model.Member, len(stored))
	for _, m := range stored {
		storedByJID[m.MemberJID] = m
	}

	liveByJID := make(map[string]struct{}, len(g.Participants))
	for _, p := range g.Participants {
		liveByJID[p.JID] = struct{}{}
		prev, known := storedByJID[p.JID]
		if known && prev.Admin == p.Admin {
			continue
		}
		if err := r.store.UpsertMember(ctx, model.Member{
			GroupJID:  g.JID,
			MemberJID: p.JID,
			Admin:     p.Admin,
		}); err != nil {
			return err
		}
	}

	for _, m := range stored {
		if _, ok := liveByJID[m.MemberJID]; ok {
			continue
		}
		if err := r.store.DeleteMember(ctx, g.JID, m.MemberJID); err != nil {
			return err
		}
	}
	return nil
}
