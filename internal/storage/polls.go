package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pollbot/internal/model"
)

const pollColumns = `id, group_id, title, chat_id, thread_id, message_id, status, deadline, created_by, created_at`

func scanPoll(r rowScanner) (model.Poll, error) {
	var (
		p         model.Poll
		status    string
		deadline  sql.NullInt64
		createdMS int64
	)
	err := r.Scan(&p.ID, &p.GroupID, &p.Title,
		&p.Message.ChatID, &p.Message.ThreadID, &p.Message.MessageID,
		&status, &deadline, &p.CreatedBy, &createdMS)
	if err != nil {
		return model.Poll{}, err
	}
	p.Status = model.Status(status)
	if deadline.Valid {
		d := fromMS(deadline.Int64)
		p.Deadline = &d
	}
	p.CreatedAt = fromMS(createdMS)
	return p, nil
}

const optionColumns = `id, poll_id, position, starts_at, duration_sec, confirmed`

func scanOption(r rowScanner) (model.Option, error) {
	var (
		o         model.Option
		startsMS  int64
		durSec    int64
		confirmed int
	)
	if err := r.Scan(&o.ID, &o.PollID, &o.Position, &startsMS, &durSec, &confirmed); err != nil {
		return model.Option{}, err
	}
	o.StartsAt = fromMS(startsMS)
	o.Duration = time.Duration(durSec) * time.Second
	o.Confirmed = confirmed == 1
	return o, nil
}

// CreatePoll inserts the poll and all of its options atomically. Options are
// stored in the order given; Position is overwritten with the 1-based index.
func (s *Store) CreatePoll(ctx context.Context, p model.Poll, opts []model.Option) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM groups WHERE id = ?`, p.GroupID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrGroupNotFound
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO polls(`+pollColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
			p.ID, p.GroupID, p.Title, p.Message.ChatID, p.Message.ThreadID, p.Message.MessageID,
			string(p.Status), nullMS(p.Deadline), p.CreatedBy, toMS(p.CreatedAt),
		)
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO options(`+optionColumns+`) VALUES(?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, o := range opts {
			if _, err := stmt.ExecContext(ctx,
				o.ID, p.ID, i+1, toMS(o.StartsAt), int64(o.Duration/time.Second), boolInt(o.Confirmed),
			); err != nil {
				return fmt.Errorf("option %d: %w", i+1, err)
			}
		}
		return nil
	})
}

func (s *Store) Poll(ctx context.Context, id string) (model.Poll, error) {
	p, err := scanPoll(s.db.QueryRowContext(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Poll{}, model.ErrPollNotFound
	}
	return p, classify(err)
}

// LoadPoll reads the poll, its group, options and votes in one transaction.
// Votes come back ordered by time cast, then voter id.
func (s *Store) LoadPoll(ctx context.Context, id string) (model.PollState, error) {
	var st model.PollState
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := scanPoll(tx.QueryRowContext(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrPollNotFound
		}
		if err != nil {
			return err
		}
		st.Poll = p

		g, err := scanGroup(tx.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = ?`, p.GroupID))
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrGroupNotFound
		}
		if err != nil {
			return err
		}
		st.Group = g

		if st.Options, err = queryOptions(ctx, tx, id); err != nil {
			return err
		}
		st.Votes, err = queryVotes(ctx, tx, id)
		return err
	})
	return st, err
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryOptions(ctx context.Context, q queryer, pollID string) ([]model.Option, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+optionColumns+` FROM options WHERE poll_id = ? ORDER BY position`, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Option
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListPolls returns the group's polls, newest first. With no statuses given,
// all polls are returned.
func (s *Store) ListPolls(ctx context.Context, groupID string, statuses ...model.Status) ([]model.Poll, error) {
	query := `SELECT ` + pollColumns + ` FROM polls WHERE group_id = ?`
	args := []any{groupID}
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND status IN (` + strings.Join(marks, ",") + `)`
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, p)
	}
	return out, classify(rows.Err())
}

// ConfirmPoll moves an Active poll to Confirmed and marks optionID as the
// chosen slot, in one transaction. Only the first of several racing calls
// succeeds; the rest see a TransitionError.
func (s *Store) ConfirmPoll(ctx context.Context, pollID, optionID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE polls SET status = 'confirmed'
			 WHERE id = ? AND status = 'active'
			   AND EXISTS (SELECT 1 FROM options WHERE id = ? AND poll_id = ?)`,
			pollID, optionID, pollID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return diagnose(ctx, tx, pollID, optionID, model.StatusConfirmed)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE options SET confirmed = 1 WHERE id = ? AND poll_id = ?`, optionID, pollID)
		return err
	})
}

func (s *Store) CancelPoll(ctx context.Context, pollID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE polls SET status = 'cancelled' WHERE id = ? AND status = 'active'`, pollID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return diagnose(ctx, tx, pollID, "", model.StatusCancelled)
		}
		return nil
	})
}

// SetDeadline replaces the deadline of an Active poll. Receipts for
// thresholds already fired are kept, so moving the deadline never re-sends
// a reminder for the same threshold.
func (s *Store) SetDeadline(ctx context.Context, pollID string, deadline time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE polls SET deadline = ? WHERE id = ? AND status = 'active'`, toMS(deadline), pollID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return diagnose(ctx, tx, pollID, "", model.StatusActive)
		}
		return nil
	})
}

// AttachMessage records where the poll is rendered. It is allowed in any
// status so terminal polls can still be re-rendered.
func (s *Store) AttachMessage(ctx context.Context, pollID string, ref model.MessageRef) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE polls SET chat_id = ?, thread_id = ?, message_id = ? WHERE id = ?`,
		ref.ChatID, ref.ThreadID, ref.MessageID, pollID)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrPollNotFound
	}
	return nil
}

// diagnose explains why a guarded write touched no rows. It runs inside the
// same transaction as the write so the answer matches what the write saw.
// An empty to means the caller was voting.
func diagnose(ctx context.Context, tx *sql.Tx, pollID, optionID string, to model.Status) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM polls WHERE id = ?`, pollID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrPollNotFound
	}
	if err != nil {
		return err
	}
	if model.Status(status) != model.StatusActive {
		if to == "" {
			return fmt.Errorf("%w (poll is %s)", model.ErrPollNotOpen, status)
		}
		if to == model.StatusActive {
			return &model.TransitionError{PollID: pollID, From: model.Status(status)}
		}
		return &model.TransitionError{PollID: pollID, From: model.Status(status), To: to}
	}
	if optionID != "" {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM options WHERE id = ? AND poll_id = ?`, optionID, pollID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrOptionNotFound
		}
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: poll %s changed concurrently", model.ErrConflict, pollID)
}
