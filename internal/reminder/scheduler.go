package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"pollbot/internal/clock"
	"pollbot/internal/eventbus"
	"pollbot/internal/model"
	kit "pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

// ErrTickInFlight is returned by RunOnce when another tick of the same
// scheduler is still running.
var ErrTickInFlight = errors.New("reminder tick already running")

// Store is what the scheduler reads and writes.
type Store interface {
	// DuePolls lists Active polls that have a deadline, passed or not.
	DuePolls(ctx context.Context) ([]model.DuePoll, error)
	// ClaimReminder inserts the receipt unless one exists or the poll is no
	// longer Active. Exactly one caller per (poll, threshold) gets true.
	ClaimReminder(ctx context.Context, r model.ReminderReceipt) (bool, error)
}

// Dispatcher delivers a rendered reminder. Retries, if any, are its business.
type Dispatcher interface {
	Deliver(ctx context.Context, to kit.ChatTarget, text string) error
}

type Config struct {
	Enabled bool
	// Schedule is the tick: a cron expression or an interval (see ParseTick).
	Schedule string
	// Thresholds apply to every poll, in addition to the group's own lead.
	Thresholds  []time.Duration
	TickTimeout time.Duration
}

func (c Config) normalized() Config {
	if c.Schedule == "" {
		c.Schedule = "1m"
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = 2 * time.Minute
	}
	return c
}

// Report summarizes one tick.
type Report struct {
	Polls   int // Active polls with a deadline
	Sent    int // receipts claimed and dispatched
	Skipped int // due thresholds already claimed
	Failed  int // claims or deliveries that errored
}

// Scheduler periodically fires reminders ahead of poll deadlines. Each
// (poll, threshold) pair fires at most once; the receipt is claimed before
// delivery and a failed delivery is not retried.
type Scheduler struct {
	store Store
	disp  Dispatcher
	clock clock.Clock
	log   logx.Logger
	bus   eventbus.Bus
	fmt   Formatter

	cfgMu sync.RWMutex
	cfg   Config

	mu      sync.Mutex
	c       *cron.Cron
	parent  context.Context
	stopped bool
	ticks   sync.WaitGroup

	running atomic.Bool
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option { return func(s *Scheduler) { s.clock = c } }

func WithLogger(l logx.Logger) Option { return func(s *Scheduler) { s.log = l } }

func WithBus(b eventbus.Bus) Option { return func(s *Scheduler) { s.bus = b } }

func WithFormatter(f Formatter) Option { return func(s *Scheduler) { s.fmt = f } }

func New(cfg Config, store Store, disp Dispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		store: store,
		disp:  disp,
		clock: clock.System(),
		log:   logx.Nop(),
		bus:   eventbus.Nop(),
		fmt:   HTMLFormatter{},
		cfg:   cfg.normalized(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Scheduler) config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Start begins ticking. ctx bounds the scheduler's lifetime but not the
// ticks themselves: a tick started before cancellation runs to completion.
func (s *Scheduler) Start(ctx context.Context) error {
	cfg := s.config()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.parent = ctx
	s.stopped = false
	if !cfg.Enabled {
		s.log.Info("reminders disabled")
		return nil
	}
	return s.startCronLocked(cfg)
}

func (s *Scheduler) startCronLocked(cfg Config) error {
	tick, err := ParseTick(cfg.Schedule)
	if err != nil {
		return err
	}
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(tick.Spec(), s.tick); err != nil {
		return fmt.Errorf("reminder schedule %q: %w", cfg.Schedule, err)
	}
	c.Start()
	s.c = c
	s.log.Info("reminder scheduler started",
		logx.String("schedule", tick.Spec()),
		logx.Any("thresholds", durationsToStrings(cfg.Thresholds)),
	)
	return nil
}

// Stop halts ticking and waits for an in-flight tick, including a manual
// RunOnce, to finish or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.stopped = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if c != nil {
			<-c.Stop().Done()
		}
		s.ticks.Wait()
	}()
	select {
	case <-done:
		s.log.Info("reminder scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply swaps the configuration. Threshold changes take effect on the next
// tick; a changed schedule or enable flag restarts the cron loop.
func (s *Scheduler) Apply(cfg Config) error {
	cfg = cfg.normalized()
	if _, err := ParseTick(cfg.Schedule); err != nil {
		return err
	}
	s.cfgMu.Lock()
	prev := s.cfg
	s.cfg = cfg
	s.cfgMu.Unlock()

	if prev.Schedule == cfg.Schedule && prev.Enabled == cfg.Enabled {
		return nil
	}

	s.mu.Lock()
	if s.parent == nil || s.stopped {
		s.mu.Unlock()
		return nil
	}
	old := s.c
	s.c = nil
	s.mu.Unlock()

	// Let the running tick finish before the new loop starts. The lock is
	// not held here because the tick itself takes it.
	if old != nil {
		<-old.Stop().Done()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.c != nil {
		return nil
	}
	if !cfg.Enabled {
		s.log.Info("reminders disabled")
		return nil
	}
	return s.startCronLocked(cfg)
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	parent := s.parent
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.config().TickTimeout)
	defer cancel()

	rep, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrTickInFlight):
		s.log.Debug("reminder tick skipped, previous still running")
	case err != nil:
		s.log.Warn("reminder tick failed", logx.Err(err))
	case rep.Sent > 0 || rep.Failed > 0:
		s.log.Info("reminder tick",
			logx.Int("polls", rep.Polls),
			logx.Int("sent", rep.Sent),
			logx.Int("skipped", rep.Skipped),
			logx.Int("failed", rep.Failed),
		)
	default:
		s.log.Debug("reminder tick", logx.Int("polls", rep.Polls), logx.Int("skipped", rep.Skipped))
	}
}

// RunOnce performs a single tick at the current clock time. Concurrent
// calls on the same Scheduler do not overlap; the loser gets ErrTickInFlight.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Report{}, errors.New("reminder scheduler stopped")
	}
	s.ticks.Add(1)
	s.mu.Unlock()
	defer s.ticks.Done()

	if !s.running.CompareAndSwap(false, true) {
		return Report{}, ErrTickInFlight
	}
	defer s.running.Store(false)

	cfg := s.config()
	now := s.clock.Now()
	var rep Report

	due, err := s.store.DuePolls(ctx)
	if err != nil {
		return rep, err
	}
	rep.Polls = len(due)

	for _, p := range due {
		for _, thr := range Thresholds(p.ReminderLead, cfg.Thresholds) {
			if now.Before(p.Deadline.Add(-thr)) {
				continue
			}
			s.fire(ctx, p, thr, now, &rep)
		}
	}
	return rep, nil
}

func (s *Scheduler) fire(ctx context.Context, p model.DuePoll, thr time.Duration, now time.Time, rep *Report) {
	log := s.log.With(logx.String("poll", p.PollID), logx.Duration("threshold", thr))
	ev := eventbus.ReminderEvent{PollID: p.PollID, Threshold: thr, Deadline: p.Deadline}

	claimed, err := s.store.ClaimReminder(ctx, model.ReminderReceipt{
		ID:        model.NewID(),
		PollID:    p.PollID,
		Threshold: thr,
		SentAt:    now,
	})
	switch {
	case errors.Is(err, model.ErrConflict):
		// Another writer got there first.
		rep.Skipped++
		return
	case err != nil:
		rep.Failed++
		log.Warn("reminder claim failed", logx.Err(err))
		return
	case !claimed:
		rep.Skipped++
		return
	}

	text := s.fmt.Reminder(p, thr, now)
	to := kit.ChatTarget{ChatID: p.Target.ChatID, ThreadID: p.Target.ThreadID}
	if err := s.disp.Deliver(ctx, to, text); err != nil {
		rep.Failed++
		ev.Error = err.Error()
		log.Warn("reminder delivery failed; not retried", logx.Err(err), logx.Int64("chat_id", to.ChatID))
		s.bus.Publish(eventbus.Event{Type: eventbus.ReminderFailed, Time: now, Data: ev})
		return
	}
	rep.Sent++
	log.Info("reminder sent", logx.Int64("chat_id", to.ChatID), logx.Time("deadline", p.Deadline))
	s.bus.Publish(eventbus.Event{Type: eventbus.ReminderSent, Time: now, Data: ev})
}

// Thresholds merges the group lead with the global thresholds, dropping
// non-positive and duplicate values. The result is largest first.
func Thresholds(groupLead time.Duration, global []time.Duration) []time.Duration {
	seen := make(map[time.Duration]struct{}, len(global)+1)
	out := make([]time.Duration, 0, len(global)+1)
	add := func(d time.Duration) {
		d = d.Truncate(time.Second)
		if d <= 0 {
			return
		}
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	add(groupLead)
	for _, d := range global {
		add(d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

func durationsToStrings(ds []time.Duration) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, keyvals(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(keyvals(kv), logx.Err(err))...)
}

func keyvals(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
