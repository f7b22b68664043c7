package storage

import (
	"context"
	"time"

	"pollbot/internal/model"
)

// DuePolls lists every Active poll that has a deadline, joined with the group
// reminder settings. Polls past their deadline stay listed while Active so a
// threshold missed during downtime still fires once.
func (s *Store) DuePolls(ctx context.Context) ([]model.DuePoll, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.group_id, p.title, p.deadline, p.chat_id, p.thread_id, p.message_id,
		        g.timezone, g.reminder_lead_sec
		   FROM polls p JOIN groups g ON g.id = p.group_id
		  WHERE p.status = 'active' AND p.deadline IS NOT NULL
		  ORDER BY p.deadline, p.id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.DuePoll
	for rows.Next() {
		var (
			d          model.DuePoll
			deadlineMS int64
			leadSec    int64
		)
		if err := rows.Scan(&d.PollID, &d.GroupID, &d.Title, &deadlineMS,
			&d.Target.ChatID, &d.Target.ThreadID, &d.Target.MessageID,
			&d.Timezone, &leadSec); err != nil {
			return nil, classify(err)
		}
		d.Deadline = fromMS(deadlineMS)
		d.ReminderLead = time.Duration(leadSec) * time.Second
		out = append(out, d)
	}
	return out, classify(rows.Err())
}

// ClaimReminder inserts the receipt for (poll, threshold) unless one exists
// or the poll has left Active. claimed is true for exactly one caller per
// pair, however many race.
func (s *Store) ClaimReminder(ctx context.Context, r model.ReminderReceipt) (claimed bool, err error) {
	if r.ID == "" {
		r.ID = model.NewID()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_receipts(id, poll_id, threshold_sec, sent_at)
		 SELECT ?, id, ?, ? FROM polls WHERE id = ? AND status = 'active'
		 ON CONFLICT(poll_id, threshold_sec) DO NOTHING`,
		r.ID, int64(r.Threshold/time.Second), toMS(r.SentAt), r.PollID,
	)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(err)
	}
	return n == 1, nil
}

// Receipts lists the reminders already sent for a poll, oldest first.
func (s *Store) Receipts(ctx context.Context, pollID string) ([]model.ReminderReceipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, poll_id, threshold_sec, sent_at FROM reminder_receipts
		  WHERE poll_id = ? ORDER BY sent_at, threshold_sec DESC`, pollID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.ReminderReceipt
	for rows.Next() {
		var (
			r      model.ReminderReceipt
			thrSec int64
			sentMS int64
		)
		if err := rows.Scan(&r.ID, &r.PollID, &thrSec, &sentMS); err != nil {
			return nil, classify(err)
		}
		r.Threshold = time.Duration(thrSec) * time.Second
		r.SentAt = fromMS(sentMS)
		out = append(out, r)
	}
	return out, classify(rows.Err())
}
