package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"wabcast/internal/model"
)

// CreateMessage persists a message once and tags it against every target
// bot. The returned id is the message id (generated when empty).
func (s *Store) CreateMessage(ctx context.Context, m model.Message, targetBotIDs []string) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages(id, body, media, origin, created_at) VALUES(?,?,?,?,?)`,
		m.ID, m.Text, m.Media, string(m.Origin), m.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", err
	}
	for _, botID := range targetBotIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO message_targets(message_id, bot_id) VALUES(?,?)`,
			m.ID, botID,
		); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return m.ID, nil
}
