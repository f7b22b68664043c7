package poll

import (
	"sort"

	"pollbot/internal/model"
)

// Bucket is one vote value on one option.
type Bucket struct {
	Count int
	Names []string
}

// Tally aggregates the votes cast on a single option.
type Tally struct {
	OptionID string
	Position int
	Yes      Bucket
	No       Bucket
	Maybe    Bucket
}

func (t *Tally) bucket(v model.VoteValue) *Bucket {
	switch v {
	case model.VoteYes:
		return &t.Yes
	case model.VoteNo:
		return &t.No
	case model.VoteMaybe:
		return &t.Maybe
	}
	return nil
}

// Total is the number of voters who answered this option at all.
func (t Tally) Total() int { return t.Yes.Count + t.No.Count + t.Maybe.Count }

// TallyVotes builds one Tally per option, in option order. Names within a
// bucket are ordered by vote time, then voter id. Votes for unknown options
// are ignored.
func TallyVotes(opts []model.Option, votes []model.Vote) []Tally {
	out := make([]Tally, len(opts))
	idx := make(map[string]int, len(opts))
	for i, o := range opts {
		out[i] = Tally{OptionID: o.ID, Position: o.Position}
		idx[o.ID] = i
	}

	sorted := append([]model.Vote(nil), votes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].VotedAt.Equal(sorted[j].VotedAt) {
			return sorted[i].VotedAt.Before(sorted[j].VotedAt)
		}
		return sorted[i].VoterID < sorted[j].VoterID
	})

	for _, v := range sorted {
		i, ok := idx[v.OptionID]
		if !ok {
			continue
		}
		b := out[i].bucket(v.Value)
		if b == nil {
			continue
		}
		b.Count++
		b.Names = append(b.Names, v.VoterName)
	}
	return out
}

// MostPopular picks the option with the most Yes votes; ties go to the
// lower position. ok is false when no option has a Yes vote.
func MostPopular(tallies []Tally) (best Tally, ok bool) {
	for _, t := range tallies {
		if t.Yes.Count == 0 {
			continue
		}
		if !ok || t.Yes.Count > best.Yes.Count ||
			(t.Yes.Count == best.Yes.Count && t.Position < best.Position) {
			best, ok = t, true
		}
	}
	return best, ok
}
