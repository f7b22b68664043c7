package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pollbot/internal/model"
)

const groupColumns = `id, chat_id, timezone, default_duration_sec, reminder_lead_sec, created_at`

func scanGroup(r rowScanner) (model.Group, error) {
	var (
		g         model.Group
		durSec    int64
		leadSec   int64
		createdMS int64
	)
	if err := r.Scan(&g.ID, &g.ChatID, &g.Settings.Timezone, &durSec, &leadSec, &createdMS); err != nil {
		return model.Group{}, err
	}
	g.Settings.DefaultDuration = time.Duration(durSec) * time.Second
	g.Settings.ReminderLead = time.Duration(leadSec) * time.Second
	g.CreatedAt = fromMS(createdMS)
	return g, nil
}

// EnsureGroup returns the group for chatID, creating it with defaults on
// first sight. Concurrent first calls converge on the same row.
func (s *Store) EnsureGroup(ctx context.Context, chatID int64, defaults model.GroupSettings, now time.Time) (model.Group, error) {
	var g model.Group
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO groups(`+groupColumns+`) VALUES(?,?,?,?,?,?)
			 ON CONFLICT(chat_id) DO NOTHING`,
			model.NewID(), chatID, defaults.Timezone,
			int64(defaults.DefaultDuration/time.Second), int64(defaults.ReminderLead/time.Second),
			toMS(now),
		)
		if err != nil {
			return err
		}
		g, err = scanGroup(tx.QueryRowContext(ctx,
			`SELECT `+groupColumns+` FROM groups WHERE chat_id = ?`, chatID))
		return err
	})
	return g, err
}

func (s *Store) GroupByChat(ctx context.Context, chatID int64) (model.Group, error) {
	g, err := scanGroup(s.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM groups WHERE chat_id = ?`, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Group{}, model.ErrGroupNotFound
	}
	return g, classify(err)
}

// UpdateGroupSettings reads the group's settings, passes them through patch
// and writes the result, all in one transaction. Concurrent updates touching
// different fields therefore both land.
func (s *Store) UpdateGroupSettings(ctx context.Context, id string, patch func(model.GroupSettings) (model.GroupSettings, error)) (model.Group, error) {
	var g model.Group
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := scanGroup(tx.QueryRowContext(ctx,
			`SELECT `+groupColumns+` FROM groups WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrGroupNotFound
		}
		if err != nil {
			return err
		}
		next, err := patch(cur.Settings)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE groups SET timezone = ?, default_duration_sec = ?, reminder_lead_sec = ? WHERE id = ?`,
			next.Timezone, int64(next.DefaultDuration/time.Second), int64(next.ReminderLead/time.Second), id,
		); err != nil {
			return err
		}
		cur.Settings = next
		g = cur
		return nil
	})
	if err != nil {
		return model.Group{}, err
	}
	return g, nil
}
