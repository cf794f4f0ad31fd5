package storage

import (
	"context"

	"wabcast/internal/model"
)

// UpsertGroup inserts or updates a group record by jid.
func (s *Store) UpsertGroup(ctx context.Context, g model.Group) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups(jid, name, size) VALUES(?,?,?)
		 ON CONFLICT(jid) DO UPDATE SET name=excluded.name, size=excluded.size`,
		g.JID, g.Name, g.Size,
	)
	return err
}

// EnsureBotGroup creates the bot<->group association if it does not exist.
// New associations default to non-broadcast.
func (s *Store) EnsureBotGroup(ctx context.Context, botID, groupJID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO bot_groups(bot_id, group_jid, broadcast) VALUES(?,?,0)`,
		botID, groupJID,
	)
	return err
}

func (s *Store) DeleteBotGroup(ctx context.Context, botID, groupJID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM bot_groups WHERE bot_id = ? AND group_jid = ?`, botID, groupJID)
	return err
}

// SetBroadcast marks or unmarks a group in the bot's fan-out set.
func (s *Store) SetBroadcast(ctx context.Context, botID, groupJID string, on bool) error {
	v := 0
	if on {
		v = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE bot_groups SET broadcast = ? WHERE bot_id = ? AND group_jid = ?`, v, botID, groupJID)
	return err
}

func (s *Store) ListBotGroups(ctx context.Context, botID string) ([]model.BotGroup, error) {
	var rows []struct {
		BotID     string `db:"bot_id"`
		GroupJID  string `db:"group_jid"`
		Broadcast int    `db:"broadcast"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT bot_id, group_jid, broadcast FROM bot_groups WHERE bot_id = ? ORDER BY group_jid`, botID)
	if err != nil {
		return nil, err
	}
	out := make([]model.BotGroup, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.BotGroup{BotID: r.BotID, GroupJID: r.GroupJID, Broadcast: r.Broadcast != 0})
	}
	return out, nil
}

func (s *Store) UpsertMember(ctx context.Context, m model.Member) error {
	admin := 0
	if m.Admin {
		admin = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_members(group_jid, member_jid, admin) VALUES(?,?,?)
		 ON CONFLICT(group_jid, member_jid) DO UPDATE SET admin=excluded.admin`,
		m.GroupJID, m.MemberJID, admin,
	)
	return err
}

func (s *Store) DeleteMember(ctx context.Context, groupJID, memberJID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_jid = ? AND member_jid = ?`, groupJID, memberJID)
	return err
}

func (s *Store) ListGroupMembers(ctx context.Context, groupJID string) ([]model.Member, error) {
	var rows []struct {
		GroupJID  string `db:"group_jid"`
		MemberJID string `db:"member_jid"`
		Admin     int    `db:"admin"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT group_jid, member_jid, admin FROM group_members WHERE group_jid = ? ORDER BY member_jid`, groupJID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Member, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Member{GroupJID: r.GroupJID, MemberJID: r.MemberJID, Admin: r.Admin != 0})
	}
	return out, nil
}

// BroadcastStats counts the bot's broadcast groups and their total member
// count, for the observer surface.
func (s *Store) BroadcastStats(ctx context.Context, botID string) (model.GroupStats, error) {
	st := model.GroupStats{BotID: botID}
	err := s.db.GetContext(ctx, &st.BroadcastGroups,
		`SELECT COUNT(*) FROM bot_groups WHERE bot_id = ? AND broadcast = 1`, botID)
	if err != nil {
		return st, err
	}
	err = s.db.GetContext(ctx, &st.BroadcastMember,
		`SELECT COUNT(*) FROM group_members m
		 JOIN bot_groups bg ON bg.group_jid = m.group_jid
		 WHERE bg.bot_id = ? AND bg.broadcast = 1`, botID)
	return st, err
}
