package storage

import (
	"context"
	"database/sql"

	"pollbot/internal/model"
)

const voteColumns = `id, poll_id, option_id, voter_id, voter_name, value, voted_at`

func scanVote(r rowScanner) (model.Vote, error) {
	var (
		v       model.Vote
		value   string
		votedMS int64
	)
	if err := r.Scan(&v.ID, &v.PollID, &v.OptionID, &v.VoterID, &v.VoterName, &value, &votedMS); err != nil {
		return model.Vote{}, err
	}
	v.Value = model.VoteValue(value)
	v.VotedAt = fromMS(votedMS)
	return v, nil
}

func queryVotes(ctx context.Context, q queryer, pollID string) ([]model.Vote, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+voteColumns+` FROM votes WHERE poll_id = ? ORDER BY voted_at, voter_id`, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) Votes(ctx context.Context, pollID string) ([]model.Vote, error) {
	out, err := queryVotes(ctx, s.db, pollID)
	return out, classify(err)
}

// UpsertVote records v, replacing any earlier vote by the same voter on the
// same option. The write only lands while the poll is Active and the option
// belongs to it; the check and the write are one statement.
func (s *Store) UpsertVote(ctx context.Context, v model.Vote) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO votes(`+voteColumns+`)
			 SELECT ?, o.poll_id, o.id, ?, ?, ?, ?
			   FROM options o JOIN polls p ON p.id = o.poll_id
			  WHERE o.id = ? AND o.poll_id = ? AND p.status = 'active'
			 ON CONFLICT(poll_id, option_id, voter_id) DO UPDATE SET
			   value = excluded.value,
			   voter_name = excluded.voter_name,
			   voted_at = excluded.voted_at`,
			v.ID, v.VoterID, v.VoterName, string(v.Value), toMS(v.VotedAt),
			v.OptionID, v.PollID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return diagnose(ctx, tx, v.PollID, v.OptionID, "")
		}
		return nil
	})
}
