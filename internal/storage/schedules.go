package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"wabcast/internal/model"
	logx "wabcast/pkg/logx"
)

type scheduleRow struct {
	ID          int64   `db:"id"`
	Description string  `db:"description"`
	Kind        string  `db:"kind"`
	OnceYear    *int    `db:"once_year"`
	OnceMonth   *int    `db:"once_month"`
	OnceDay     *int    `db:"once_day"`
	Weekdays    *string `db:"weekdays"`
	Monthdays   *string `db:"monthdays"`
	Hour        int     `db:"hour"`
	Minute      int     `db:"minute"`
	LastRun     *string `db:"last_run"`
}

func (r scheduleRow) toModel() (model.Schedule, error) {
	rec := model.Recurrence{Kind: model.RecurrenceKind(r.Kind), Hour: r.Hour, Minute: r.Minute}
	switch rec.Kind {
	case model.KindOnce:
		if r.OnceYear == nil || r.OnceMonth == nil || r.OnceDay == nil {
			return model.Schedule{}, fmt.Errorf("schedule %d: once recurrence missing date", r.ID)
		}
		rec.Year, rec.Month, rec.Day = *r.OnceYear, time.Month(*r.OnceMonth), *r.OnceDay
	case model.KindDaily:
	case model.KindWeekly:
		days, err := parseIntCSV(strOrEmpty(r.Weekdays))
		if err != nil {
			return model.Schedule{}, fmt.Errorf("schedule %d: weekdays: %w", r.ID, err)
		}
		for _, d := range days {
			rec.Weekdays = append(rec.Weekdays, time.Weekday(d))
		}
	case model.KindMonthly:
		days, err := parseIntCSV(strOrEmpty(r.Monthdays))
		if err != nil {
			return model.Schedule{}, fmt.Errorf("schedule %d: monthdays: %w", r.ID, err)
		}
		rec.Monthdays = days
	default:
		return model.Schedule{}, fmt.Errorf("schedule %d: unknown recurrence kind %q", r.ID, r.Kind)
	}
	if err := rec.Validate(); err != nil {
		return model.Schedule{}, fmt.Errorf("schedule %d: %w", r.ID, err)
	}
	return model.Schedule{
		ID:          r.ID,
		Description: r.Description,
		Recurrence:  rec,
		LastRun:     timeFromDB(r.LastRun),
	}, nil
}

// SchedulesActiveOn returns the lite form of every schedule that yields at
// least one due minute on the given date. Texts and media are not loaded.
func (s *Store) SchedulesActiveOn(ctx context.Context, date time.Time) ([]model.Schedule, error) {
	var rows []scheduleRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM schedules ORDER BY id`); err != nil {
		return nil, err
	}

	var out []model.Schedule
	for _, r := range rows {
		sch, err := r.toModel()
		if err != nil {
			s.log.Warn("skipping malformed schedule", logx.Err(err))
			continue
		}
		if len(sch.Recurrence.DueMinutesOn(date)) == 0 {
			continue
		}
		bots, err := s.scheduleBots(ctx, sch.ID)
		if err != nil {
			return nil, err
		}
		sch.BotIDs = bots
		out = append(out, sch)
	}
	return out, nil
}

// ScheduleDetail loads the full schedule including content variants and
// media references.
func (s *Store) ScheduleDetail(ctx context.Context, id int64) (model.Schedule, error) {
	var row scheduleRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM schedules WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Schedule{}, ErrNotFound
	}
	if err != nil {
		return model.Schedule{}, err
	}
	sch, err := row.toModel()
	if err != nil {
		return model.Schedule{}, err
	}

	if sch.BotIDs, err = s.scheduleBots(ctx, id); err != nil {
		return model.Schedule{}, err
	}
	if err := s.db.SelectContext(ctx, &sch.Texts,
		`SELECT body FROM schedule_texts WHERE schedule_id = ? ORDER BY pos`, id); err != nil {
		return model.Schedule{}, err
	}
	if err := s.db.SelectContext(ctx, &sch.MediaPaths,
		`SELECT path FROM schedule_media WHERE schedule_id = ? ORDER BY pos`, id); err != nil {
		return model.Schedule{}, err
	}
	return sch, nil
}

// UpdateScheduleLastRun records a successful firing.
func (s *Store) UpdateScheduleLastRun(ctx context.Context, id int64, ts time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_run = ? WHERE id = ?`, timeToDB(ts), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSchedule inserts a schedule with its texts, media references and
// target bots.
func (s *Store) CreateSchedule(ctx context.Context, sch model.Schedule) (int64, error) {
	if err := sch.Recurrence.Validate(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	rec := sch.Recurrence
	var onceYear, onceMonth, onceDay any
	var weekdays, monthdays any
	switch rec.Kind {
	case model.KindOnce:
		onceYear, onceMonth, onceDay = rec.Year, int(rec.Month), rec.Day
	case model.KindWeekly:
		ds := make([]int, 0, len(rec.Weekdays))
		for _, d := range rec.Weekdays {
			ds = append(ds, int(d))
		}
		weekdays = joinIntCSV(ds)
	case model.KindMonthly:
		monthdays = joinIntCSV(rec.Monthdays)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO schedules(description, kind, once_year, once_month, once_day, weekdays, monthdays, hour, minute, last_run)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		sch.Description, string(rec.Kind), onceYear, onceMonth, onceDay, weekdays, monthdays,
		rec.Hour, rec.Minute, timeToDB(sch.LastRun),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, body := range sch.Texts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schedule_texts(schedule_id, pos, body) VALUES(?,?,?)`, id, i, body); err != nil {
			return 0, err
		}
	}
	for i, path := range sch.MediaPaths {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schedule_media(schedule_id, pos, path) VALUES(?,?,?)`, id, i, path); err != nil {
			return 0, err
		}
	}
	for _, botID := range sch.BotIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO schedule_bots(schedule_id, bot_id) VALUES(?,?)`, id, botID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) scheduleBots(ctx context.Context, id int64) ([]string, error) {
	var bots []string
	err := s.db.SelectContext(ctx, &bots,
		`SELECT bot_id FROM schedule_bots WHERE schedule_id = ? ORDER BY bot_id`, id)
	return bots, err
}

func parseIntCSV(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid int %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

func joinIntCSV(ns []int) string {
	parts := make([]string, 0, len(ns))
	for _, n := range ns {
		parts = append(parts, strconv.Itoa(n))
	}
	return strings.Join(parts, ",")
}

func strOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
