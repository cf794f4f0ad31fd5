package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"wabcast/internal/model"
)

type botRow struct {
	ID            string `db:"id"`
	Number        string `db:"number"`
	Credentials   []byte `db:"credentials"`
	DelayGroups   int    `db:"delay_groups_sec"`
	DelayMessages int    `db:"delay_messages_sec"`
	LinkPolicy    string `db:"link_policy"`
	SendMethod    string `db:"send_method"`
	SourceFilter  string `db:"source_filter"`
}

func (r botRow) toModel() model.Bot {
	return model.Bot{
		ID:          r.ID,
		Number:      r.Number,
		Credentials: r.Credentials,
		Settings: model.Settings{
			DelayBetweenGroups:   time.Duration(r.DelayGroups) * time.Second,
			DelayBetweenMessages: time.Duration(r.DelayMessages) * time.Second,
			LinkPolicy:           model.LinkPolicy(r.LinkPolicy),
			SendMethod:           model.SendMethod(r.SendMethod),
			SourceFilter:         model.SourceFilter(r.SourceFilter),
		}.Normalized(),
	}
}

func (s *Store) ListBots(ctx context.Context) ([]model.Bot, error) {
	var rows []botRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM bots ORDER BY id`); err != nil {
		return nil, err
	}
	out := make([]model.Bot, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) GetBot(ctx context.Context, id string) (model.Bot, error) {
	var row botRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM bots WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Bot{}, ErrNotFound
	}
	if err != nil {
		return model.Bot{}, err
	}
	return row.toModel(), nil
}

// SaveBot upserts the bot identity and settings.
func (s *Store) SaveBot(ctx context.Context, b model.Bot) error {
	set := b.Settings.Normalized()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bots(id, number, credentials, delay_groups_sec, delay_messages_sec, link_policy, send_method, source_filter)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   number=excluded.number,
		   credentials=excluded.credentials,
		   delay_groups_sec=excluded.delay_groups_sec,
		   delay_messages_sec=excluded.delay_messages_sec,
		   link_policy=excluded.link_policy,
		   send_method=excluded.send_method,
		   source_filter=excluded.source_filter`,
		b.ID, b.Number, b.Credentials,
		int(set.DelayBetweenGroups/time.Second), int(set.DelayBetweenMessages/time.Second),
		string(set.LinkPolicy), string(set.SendMethod), string(set.SourceFilter),
	)
	return err
}

// SetCredentials stores rotated session credentials for a bot.
func (s *Store) SetCredentials(ctx context.Context, id string, creds []byte) error {
	res, err := s.db.ExecContext(ctx, `UPDATE bots SET credentials = ? WHERE id = ?`, creds, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearCredentials purges stored credentials after a provider logout. A
// logged-out session must never silently reuse old credentials.
func (s *Store) ClearCredentials(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE bots SET credentials = NULL WHERE id = ?`, id)
	return err
}
