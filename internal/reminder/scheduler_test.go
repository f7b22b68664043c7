package reminder

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pollbot/internal/clock"
	"pollbot/internal/model"
	"pollbot/internal/storage"
	kit "pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

var t0 = time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)

type delivery struct {
	to   kit.ChatTarget
	text string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	sent  []delivery
	err   error
	block chan struct{}
	enter chan struct{}
}

func (d *fakeDispatcher) Deliver(ctx context.Context, to kit.ChatTarget, text string) error {
	if d.enter != nil {
		d.enter <- struct{}{}
	}
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, delivery{to: to, text: text})
	return nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "reminders.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// seedDuePoll creates an Active poll in a group with the default 24h lead
// and the given deadline.
func seedDuePoll(t *testing.T, st *storage.Store, deadline time.Time) model.Poll {
	t.Helper()
	ctx := context.Background()
	g, err := st.EnsureGroup(ctx, -1002, model.DefaultGroupSettings(), t0)
	if err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	d := deadline
	p := model.Poll{
		ID:        model.NewID(),
		GroupID:   g.ID,
		Title:     "Session <A>",
		Message:   model.MessageRef{ChatID: g.ChatID, ThreadID: 3, MessageID: 11},
		Status:    model.StatusActive,
		Deadline:  &d,
		CreatedBy: 1,
		CreatedAt: t0,
	}
	opts := []model.Option{{ID: model.NewID(), StartsAt: deadline.Add(24 * time.Hour), Duration: 4 * time.Hour}}
	if err := st.CreatePoll(ctx, p, opts); err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	return p
}

func newScheduler(st Store, d Dispatcher, clk clock.Clock, thresholds ...time.Duration) *Scheduler {
	return New(Config{Enabled: true, Schedule: "1m", Thresholds: thresholds}, st, d, WithClock(clk))
}

func TestReminderFiresOncePerThreshold(t *testing.T) {
	st := openStore(t)
	deadline := t0.Add(30 * time.Hour)
	p := seedDuePoll(t, st, deadline)
	clk := clock.NewManual(t0)
	disp := &fakeDispatcher{}
	s := newScheduler(st, disp, clk, 24*time.Hour, time.Hour)
	ctx := context.Background()

	rep, err := s.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Polls != 1 || rep.Sent != 0 {
		t.Fatalf("nothing due yet, got %+v", rep)
	}

	// T = deadline - 24h
	clk.Set(deadline.Add(-24 * time.Hour))
	rep, err = s.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Sent != 1 {
		t.Fatalf("expected the 24h reminder, got %+v", rep)
	}

	clk.Advance(time.Minute)
	rep, err = s.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Sent != 0 || rep.Skipped != 1 {
		t.Fatalf("24h reminder must not re-fire, got %+v", rep)
	}

	clk.Set(deadline.Add(-30 * time.Minute))
	rep, err = s.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Sent != 1 || rep.Skipped != 1 {
		t.Fatalf("expected the 1h reminder only, got %+v", rep)
	}

	if disp.count() != 2 {
		t.Fatalf("expected 2 deliveries, got %d", disp.count())
	}
	first := disp.sent[0]
	if first.to.ChatID != -1002 || first.to.ThreadID != 3 {
		t.Fatalf("wrong destination: %+v", first.to)
	}
	if !strings.Contains(first.text, "Session &lt;A&gt;") {
		t.Fatalf("title must be escaped in %q", first.text)
	}

	receipts, err := st.Receipts(ctx, p.ID)
	if err != nil {
		t.Fatalf("Receipts: %v", err)
	}
	if len(receipts) != 2 {
		t.Fatalf("expected 2 receipts, got %d", len(receipts))
	}

	// Past the deadline the poll is still Active and scanned, but both
	// receipts exist.
	clk.Set(deadline.Add(time.Minute))
	rep, err = s.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Polls != 1 || rep.Sent != 0 || rep.Skipped != 2 {
		t.Fatalf("overdue poll must not re-fire, got %+v", rep)
	}
}

func TestOverduePollGetsMissedReminders(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	deadline := t0.Add(30 * time.Second)
	p := seedDuePoll(t, st, deadline)
	disp := &fakeDispatcher{}
	// First tick lands after the deadline, as after downtime.
	clk := clock.NewManual(t0.Add(90 * time.Second))
	s := newScheduler(st, disp, clk, 24*time.Hour, time.Hour)

	rep, err := s.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Polls != 1 || rep.Sent != 2 || rep.Failed != 0 {
		t.Fatalf("expected both missed reminders, got %+v", rep)
	}
	if !strings.Contains(disp.sent[0].text, "deadline has passed") {
		t.Fatalf("overdue reminder text: %q", disp.sent[0].text)
	}
	receipts, err := st.Receipts(ctx, p.ID)
	if err != nil {
		t.Fatalf("Receipts: %v", err)
	}
	if len(receipts) != 2 {
		t.Fatalf("expected 2 receipts, got %d", len(receipts))
	}

	clk.Advance(time.Minute)
	rep, err = s.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Sent != 0 || rep.Skipped != 2 || disp.count() != 2 {
		t.Fatalf("missed reminders must fire once, got %+v", rep)
	}
}

func TestReminderSkipsClosedPoll(t *testing.T) {
	st := openStore(t)
	deadline := t0.Add(2 * time.Hour)
	p := seedDuePoll(t, st, deadline)
	if err := st.CancelPoll(context.Background(), p.ID); err != nil {
		t.Fatalf("CancelPoll: %v", err)
	}
	disp := &fakeDispatcher{}
	s := newScheduler(st, disp, clock.NewManual(t0), time.Hour)

	rep, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Polls != 0 || disp.count() != 0 {
		t.Fatalf("cancelled poll must not be reminded: %+v, %d sent", rep, disp.count())
	}
}

func TestFailedDeliveryIsNotRetried(t *testing.T) {
	st := openStore(t)
	deadline := t0.Add(2 * time.Hour)
	seedDuePoll(t, st, deadline)
	disp := &fakeDispatcher{err: errors.New("telegram down")}
	clk := clock.NewManual(t0)
	s := newScheduler(st, disp, clk)

	// Only the 24h group lead applies and it is already due.
	rep, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Failed != 1 || rep.Sent != 0 {
		t.Fatalf("expected one failed delivery, got %+v", rep)
	}

	disp.mu.Lock()
	disp.err = nil
	disp.mu.Unlock()
	clk.Advance(time.Minute)
	rep, err = s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Sent != 0 || rep.Skipped != 1 || disp.count() != 0 {
		t.Fatalf("failed reminder must not be retried: %+v", rep)
	}
}

func TestConcurrentSchedulersSendOnce(t *testing.T) {
	st := openStore(t)
	seedDuePoll(t, st, t0.Add(30*time.Minute))
	disp := &fakeDispatcher{}
	clk := clock.NewManual(t0)

	const instances = 6
	var wg sync.WaitGroup
	for i := 0; i < instances; i++ {
		s := newScheduler(st, disp, clk, time.Hour)
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.RunOnce(context.Background()); err != nil && !errors.Is(err, ErrTickInFlight) {
					t.Errorf("RunOnce: %v", err)
				}
			}()
		}
	}
	wg.Wait()

	// Two thresholds are due (24h group lead and 1h), each exactly once.
	if disp.count() != 2 {
		t.Fatalf("expected 2 deliveries across all racers, got %d", disp.count())
	}
}

// Each instance here has its own connection pool on the same database file,
// as separate bot processes would.
func TestSchedulersOnSeparateHandlesSendOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	const instances = 4
	handles := make([]*storage.Store, instances)
	for i := range handles {
		st, err := storage.Open(storage.Config{Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("storage.Open #%d: %v", i, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		handles[i] = st
	}
	p := seedDuePoll(t, handles[0], t0.Add(30*time.Minute))
	disp := &fakeDispatcher{}
	clk := clock.NewManual(t0)

	var wg sync.WaitGroup
	for _, st := range handles {
		s := newScheduler(st, disp, clk, time.Hour)
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.RunOnce(context.Background()); err != nil && !errors.Is(err, ErrTickInFlight) {
					t.Errorf("RunOnce: %v", err)
				}
			}()
		}
	}
	wg.Wait()

	if disp.count() != 2 {
		t.Fatalf("expected 2 deliveries across all handles, got %d", disp.count())
	}
	for i, st := range handles {
		rs, err := st.Receipts(context.Background(), p.ID)
		if err != nil {
			t.Fatalf("Receipts via handle %d: %v", i, err)
		}
		if len(rs) != 2 {
			t.Fatalf("handle %d sees %d receipts, want 2", i, len(rs))
		}
	}
}

func TestRunOnceIsSingleFlight(t *testing.T) {
	st := openStore(t)
	seedDuePoll(t, st, t0.Add(time.Hour))
	disp := &fakeDispatcher{block: make(chan struct{}), enter: make(chan struct{}, 1)}
	s := newScheduler(st, disp, clock.NewManual(t0))

	done := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		done <- err
	}()
	<-disp.enter

	if _, err := s.RunOnce(context.Background()); !errors.Is(err, ErrTickInFlight) {
		t.Fatalf("expected ErrTickInFlight, got %v", err)
	}
	close(disp.block)
	if err := <-done; err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}
}

func TestStopWaitsForInFlightTick(t *testing.T) {
	st := openStore(t)
	seedDuePoll(t, st, t0.Add(time.Hour))
	disp := &fakeDispatcher{block: make(chan struct{}), enter: make(chan struct{}, 1)}
	s := newScheduler(st, disp, clock.NewManual(t0))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	go func() { _, _ = s.RunOnce(context.Background()) }()
	<-disp.enter

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a delivery was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(disp.block)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the tick finished")
	}
	if disp.count() != 1 {
		t.Fatalf("in-flight reminder should have completed, got %d", disp.count())
	}
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce after Stop should fail")
	}
}

func TestStopHonoursContext(t *testing.T) {
	st := openStore(t)
	seedDuePoll(t, st, t0.Add(time.Hour))
	disp := &fakeDispatcher{block: make(chan struct{}), enter: make(chan struct{}, 1)}
	s := newScheduler(st, disp, clock.NewManual(t0))
	defer close(disp.block)

	go func() { _, _ = s.RunOnce(context.Background()) }()
	<-disp.enter

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestApplyRejectsBadSchedule(t *testing.T) {
	s := New(Config{}, nil, nil)
	if err := s.Apply(Config{Enabled: true, Schedule: "whenever"}); err == nil {
		t.Fatal("expected an error for an invalid schedule")
	}
	if err := s.Apply(Config{Enabled: true, Schedule: "30s", Thresholds: []time.Duration{time.Hour}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := s.config().Thresholds; len(got) != 1 || got[0] != time.Hour {
		t.Fatalf("thresholds not applied: %v", got)
	}
}

func TestThresholds(t *testing.T) {
	t.Parallel()
	got := Thresholds(24*time.Hour, []time.Duration{time.Hour, 24 * time.Hour, 0, -time.Minute, 3 * time.Hour})
	want := []time.Duration{24 * time.Hour, 3 * time.Hour, time.Hour}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if got := Thresholds(0, nil); len(got) != 0 {
		t.Fatalf("expected no thresholds, got %v", got)
	}
}

func TestFormatLead(t *testing.T) {
	t.Parallel()
	cases := []struct {
		d    time.Duration
		want string
	}{
		{24 * time.Hour, "1d"},
		{26 * time.Hour, "1d2h"},
		{time.Hour, "1h"},
		{90 * time.Minute, "1h30m"},
		{45 * time.Minute, "45m"},
		{30 * time.Second, "30s"},
		{0, "0m"},
		{48*time.Hour + 59*time.Second, "2d"},
	}
	for _, tc := range cases {
		if got := FormatLead(tc.d); got != tc.want {
			t.Fatalf("FormatLead(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
