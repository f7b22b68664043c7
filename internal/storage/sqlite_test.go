package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pollbot/internal/model"
	logx "pollbot/pkg/logx"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "polls.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// seedPoll creates a group and an Active poll with n hourly options.
func seedPoll(t *testing.T, st *Store, n int) (model.Group, model.Poll, []model.Option) {
	t.Helper()
	ctx := context.Background()
	g, err := st.EnsureGroup(ctx, -100123, model.DefaultGroupSettings(), t0)
	if err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	p := model.Poll{
		ID:        model.NewID(),
		GroupID:   g.ID,
		Title:     "Board game night",
		Message:   model.MessageRef{ChatID: g.ChatID},
		Status:    model.StatusActive,
		CreatedBy: 7,
		CreatedAt: t0,
	}
	opts := make([]model.Option, n)
	for i := range opts {
		opts[i] = model.Option{
			ID:       model.NewID(),
			StartsAt: t0.Add(time.Duration(48+i) * time.Hour),
			Duration: 2 * time.Hour,
		}
	}
	if err := st.CreatePoll(ctx, p, opts); err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	for i := range opts {
		opts[i].PollID = p.ID
		opts[i].Position = i + 1
	}
	return g, p, opts
}

func TestEnsureGroupIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a, err := st.EnsureGroup(ctx, 42, model.DefaultGroupSettings(), t0)
	if err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	b, err := st.EnsureGroup(ctx, 42, model.GroupSettings{Timezone: "Europe/Berlin", DefaultDuration: time.Hour}, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("EnsureGroup again: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected same group, got %s and %s", a.ID, b.ID)
	}
	if b.Settings.Timezone != "UTC" || b.Settings.DefaultDuration != 240*time.Minute || b.Settings.ReminderLead != 24*time.Hour {
		t.Fatalf("second call must not overwrite settings: %+v", b.Settings)
	}

	set := func(model.GroupSettings) (model.GroupSettings, error) {
		return model.GroupSettings{Timezone: "Asia/Jakarta", DefaultDuration: 90 * time.Minute, ReminderLead: 2 * time.Hour}, nil
	}
	if _, err := st.UpdateGroupSettings(ctx, a.ID, set); err != nil {
		t.Fatalf("UpdateGroupSettings: %v", err)
	}
	g, err := st.GroupByChat(ctx, 42)
	if err != nil {
		t.Fatalf("GroupByChat: %v", err)
	}
	if g.Settings.Timezone != "Asia/Jakarta" || g.Settings.DefaultDuration != 90*time.Minute || g.Settings.ReminderLead != 2*time.Hour {
		t.Fatalf("settings not persisted: %+v", g.Settings)
	}

	if _, err := st.GroupByChat(ctx, 1); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreatePollUnknownGroup(t *testing.T) {
	st := newTestStore(t)
	p := model.Poll{ID: model.NewID(), GroupID: "missing", Title: "x", Status: model.StatusActive, CreatedAt: t0}
	err := st.CreatePoll(context.Background(), p, []model.Option{{ID: model.NewID(), StartsAt: t0, Duration: time.Hour}})
	if !errors.Is(err, model.ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound, got %v", err)
	}
}

func TestCreatePollIsAtomic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	g, err := st.EnsureGroup(ctx, 5, model.DefaultGroupSettings(), t0)
	if err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	p := model.Poll{ID: model.NewID(), GroupID: g.ID, Title: "x", Status: model.StatusActive, CreatedAt: t0}
	// The second option breaks the duration check, so nothing may remain.
	opts := []model.Option{
		{ID: model.NewID(), StartsAt: t0, Duration: time.Hour},
		{ID: model.NewID(), StartsAt: t0, Duration: 0},
	}
	if err := st.CreatePoll(ctx, p, opts); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected constraint conflict, got %v", err)
	}
	if _, err := st.Poll(ctx, p.ID); !errors.Is(err, model.ErrPollNotFound) {
		t.Fatalf("poll must not exist after failed create, got %v", err)
	}
}

func TestLoadPoll(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	g, p, opts := seedPoll(t, st, 3)

	state, err := st.LoadPoll(ctx, p.ID)
	if err != nil {
		t.Fatalf("LoadPoll: %v", err)
	}
	if state.Group.ID != g.ID || state.Poll.Title != p.Title || state.Poll.Status != model.StatusActive {
		t.Fatalf("unexpected state: %+v", state)
	}
	if len(state.Options) != 3 {
		t.Fatalf("expected 3 options, got %d", len(state.Options))
	}
	for i, o := range state.Options {
		if o.Position != i+1 || o.ID != opts[i].ID || !o.StartsAt.Equal(opts[i].StartsAt) || o.Duration != 2*time.Hour {
			t.Fatalf("option %d mismatch: %+v", i, o)
		}
	}
	if state.Poll.Deadline != nil {
		t.Fatalf("expected no deadline, got %v", state.Poll.Deadline)
	}

	if _, err := st.LoadPoll(ctx, "nope"); !errors.Is(err, model.ErrPollNotFound) {
		t.Fatalf("expected ErrPollNotFound, got %v", err)
	}
}

func TestUpsertVoteReplacesEarlierVote(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, p, opts := seedPoll(t, st, 2)

	first := model.Vote{ID: model.NewID(), PollID: p.ID, OptionID: opts[0].ID, VoterID: 1, VoterName: "Ana", Value: model.VoteNo, VotedAt: t0}
	if err := st.UpsertVote(ctx, first); err != nil {
		t.Fatalf("UpsertVote: %v", err)
	}
	second := first
	second.ID = model.NewID()
	second.Value = model.VoteYes
	second.VotedAt = t0.Add(time.Minute)
	if err := st.UpsertVote(ctx, second); err != nil {
		t.Fatalf("UpsertVote again: %v", err)
	}

	votes, err := st.Votes(ctx, p.ID)
	if err != nil {
		t.Fatalf("Votes: %v", err)
	}
	if len(votes) != 1 {
		t.Fatalf("expected one vote row, got %d", len(votes))
	}
	if votes[0].Value != model.VoteYes || !votes[0].VotedAt.Equal(second.VotedAt) {
		t.Fatalf("vote not replaced: %+v", votes[0])
	}
}

func TestUpsertVoteGuards(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, p, opts := seedPoll(t, st, 1)
	_, other, otherOpts := seedPoll(t, st, 1)

	vote := func(pollID, optionID string) error {
		return st.UpsertVote(ctx, model.Vote{ID: model.NewID(), PollID: pollID, OptionID: optionID, VoterID: 9, Value: model.VoteYes, VotedAt: t0})
	}

	if err := vote("missing", opts[0].ID); !errors.Is(err, model.ErrPollNotFound) {
		t.Fatalf("expected ErrPollNotFound, got %v", err)
	}
	if err := vote(p.ID, otherOpts[0].ID); !errors.Is(err, model.ErrOptionNotFound) {
		t.Fatalf("option of another poll: expected ErrOptionNotFound, got %v", err)
	}
	if err := st.CancelPoll(ctx, other.ID); err != nil {
		t.Fatalf("CancelPoll: %v", err)
	}
	if err := vote(other.ID, otherOpts[0].ID); !errors.Is(err, model.ErrPollNotOpen) {
		t.Fatalf("expected ErrPollNotOpen, got %v", err)
	}
}

func TestConcurrentVotesAllLand(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, p, opts := seedPoll(t, st, 2)

	const voters = 20
	var wg sync.WaitGroup
	errs := make(chan error, voters*len(opts))
	for i := 0; i < voters; i++ {
		for _, o := range opts {
			wg.Add(1)
			go func(voter int64, optionID string) {
				defer wg.Done()
				errs <- st.UpsertVote(ctx, model.Vote{ID: model.NewID(), PollID: p.ID, OptionID: optionID, VoterID: voter, Value: model.VoteYes, VotedAt: t0})
			}(int64(i+1), o.ID)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("UpsertVote: %v", err)
		}
	}

	votes, err := st.Votes(ctx, p.ID)
	if err != nil {
		t.Fatalf("Votes: %v", err)
	}
	if len(votes) != voters*len(opts) {
		t.Fatalf("expected %d votes, got %d", voters*len(opts), len(votes))
	}
}

func TestConfirmPollOnlyOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, p, opts := seedPoll(t, st, 4)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, o := range opts {
		wg.Add(1)
		go func(optionID string) {
			defer wg.Done()
			err := st.ConfirmPoll(ctx, p.ID, optionID)
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			var te *model.TransitionError
			if !errors.As(err, &te) || te.From != model.StatusConfirmed {
				t.Errorf("expected TransitionError from confirmed, got %v", err)
			}
		}(o.ID)
	}
	wg.Wait()
	if ok != 1 {
		t.Fatalf("expected exactly one confirm to win, got %d", ok)
	}

	state, err := st.LoadPoll(ctx, p.ID)
	if err != nil {
		t.Fatalf("LoadPoll: %v", err)
	}
	if state.Poll.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", state.Poll.Status)
	}
	confirmed := 0
	for _, o := range state.Options {
		if o.Confirmed {
			confirmed++
		}
	}
	if confirmed != 1 {
		t.Fatalf("expected one confirmed option, got %d", confirmed)
	}

	if err := st.CancelPoll(ctx, p.ID); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("cancel after confirm: expected invalid transition, got %v", err)
	}
	if err := st.SetDeadline(ctx, p.ID, t0.Add(time.Hour)); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("deadline after confirm: expected invalid transition, got %v", err)
	}
}

func TestConfirmPollUnknownOption(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, p, _ := seedPoll(t, st, 1)

	if err := st.ConfirmPoll(ctx, p.ID, "nope"); !errors.Is(err, model.ErrOptionNotFound) {
		t.Fatalf("expected ErrOptionNotFound, got %v", err)
	}
	if err := st.ConfirmPoll(ctx, "nope", "nope"); !errors.Is(err, model.ErrPollNotFound) {
		t.Fatalf("expected ErrPollNotFound, got %v", err)
	}
}

func TestClaimReminderOncePerThreshold(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, p, _ := seedPoll(t, st, 1)

	const racers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.ClaimReminder(ctx, model.ReminderReceipt{PollID: p.ID, Threshold: 24 * time.Hour, SentAt: t0})
			if err != nil {
				t.Errorf("ClaimReminder: %v", err)
				return
			}
			if ok {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if claimed != 1 {
		t.Fatalf("expected one claim, got %d", claimed)
	}

	ok, err := st.ClaimReminder(ctx, model.ReminderReceipt{PollID: p.ID, Threshold: time.Hour, SentAt: t0})
	if err != nil || !ok {
		t.Fatalf("a different threshold must be claimable: ok=%v err=%v", ok, err)
	}
	receipts, err := st.Receipts(ctx, p.ID)
	if err != nil {
		t.Fatalf("Receipts: %v", err)
	}
	if len(receipts) != 2 || receipts[0].Threshold != 24*time.Hour {
		t.Fatalf("unexpected receipts: %+v", receipts)
	}
}

func TestClaimReminderSkipsTerminalPoll(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, p, opts := seedPoll(t, st, 1)
	if err := st.ConfirmPoll(ctx, p.ID, opts[0].ID); err != nil {
		t.Fatalf("ConfirmPoll: %v", err)
	}
	ok, err := st.ClaimReminder(ctx, model.ReminderReceipt{PollID: p.ID, Threshold: time.Hour, SentAt: t0})
	if err != nil {
		t.Fatalf("ClaimReminder: %v", err)
	}
	if ok {
		t.Fatal("terminal poll must not be claimable")
	}
}

func TestDuePolls(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, p, _ := seedPoll(t, st, 1)
	_, noDeadline, _ := seedPoll(t, st, 1)
	_, cancelled, _ := seedPoll(t, st, 1)
	_, past, _ := seedPoll(t, st, 1)

	for _, id := range []string{p.ID, cancelled.ID} {
		if err := st.SetDeadline(ctx, id, t0.Add(30*time.Hour)); err != nil {
			t.Fatalf("SetDeadline: %v", err)
		}
	}
	if err := st.SetDeadline(ctx, past.ID, t0.Add(-time.Hour)); err != nil {
		t.Fatalf("SetDeadline: %v", err)
	}
	if err := st.CancelPoll(ctx, cancelled.ID); err != nil {
		t.Fatalf("CancelPoll: %v", err)
	}

	due, err := st.DuePolls(ctx)
	if err != nil {
		t.Fatalf("DuePolls: %v", err)
	}
	// Ordered by deadline: the overdue poll is still Active, so it stays listed.
	if len(due) != 2 || due[0].PollID != past.ID || due[1].PollID != p.ID {
		t.Fatalf("expected %s then %s, got %+v (excluded %s)", past.ID, p.ID, due, noDeadline.ID)
	}
	if !due[1].Deadline.Equal(t0.Add(30*time.Hour)) || due[1].ReminderLead != 24*time.Hour || due[1].Timezone != "UTC" {
		t.Fatalf("unexpected due row: %+v", due[1])
	}
}

func TestAttachMessage(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, p, _ := seedPoll(t, st, 1)

	ref := model.MessageRef{ChatID: -100123, ThreadID: 4, MessageID: 77}
	if err := st.AttachMessage(ctx, p.ID, ref); err != nil {
		t.Fatalf("AttachMessage: %v", err)
	}
	got, err := st.Poll(ctx, p.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got.Message != ref {
		t.Fatalf("expected %+v, got %+v", ref, got.Message)
	}
	if err := st.AttachMessage(ctx, "nope", ref); !errors.Is(err, model.ErrPollNotFound) {
		t.Fatalf("expected ErrPollNotFound, got %v", err)
	}
}

func TestListPolls(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	g, a, _ := seedPoll(t, st, 1)
	_, b, _ := seedPoll(t, st, 1)
	if err := st.CancelPoll(ctx, b.ID); err != nil {
		t.Fatalf("CancelPoll: %v", err)
	}

	all, err := st.ListPolls(ctx, g.ID)
	if err != nil {
		t.Fatalf("ListPolls: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 polls, got %d", len(all))
	}
	active, err := st.ListPolls(ctx, g.ID, model.StatusActive)
	if err != nil {
		t.Fatalf("ListPolls active: %v", err)
	}
	if len(active) != 1 || active[0].ID != a.ID {
		t.Fatalf("expected only %s active, got %+v", a.ID, active)
	}
}

func TestDeletingGroupCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	g, p, opts := seedPoll(t, st, 2)
	if err := st.UpsertVote(ctx, model.Vote{ID: model.NewID(), PollID: p.ID, OptionID: opts[0].ID, VoterID: 1, Value: model.VoteYes, VotedAt: t0}); err != nil {
		t.Fatalf("UpsertVote: %v", err)
	}
	if _, err := st.ClaimReminder(ctx, model.ReminderReceipt{PollID: p.ID, Threshold: time.Hour, SentAt: t0}); err != nil {
		t.Fatalf("ClaimReminder: %v", err)
	}

	if _, err := st.db.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, g.ID); err != nil {
		t.Fatalf("delete group: %v", err)
	}
	for _, table := range []string{"polls", "options", "votes", "reminder_receipts"} {
		var n int
		if err := st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Fatalf("expected %s to be empty after cascade, got %d rows", table, n)
		}
	}
}
