package poll

import (
	"context"
	"sync/atomic"
	"time"

	"pollbot/internal/clock"
	"pollbot/internal/eventbus"
	"pollbot/internal/model"
	logx "pollbot/pkg/logx"
)

// Store is the persistence the engine needs. Every mutating method is one
// atomic operation; guarded writes report why they did not apply using the
// model error classes.
type Store interface {
	EnsureGroup(ctx context.Context, chatID int64, defaults model.GroupSettings, now time.Time) (model.Group, error)
	UpdateGroupSettings(ctx context.Context, id string, patch func(model.GroupSettings) (model.GroupSettings, error)) (model.Group, error)

	CreatePoll(ctx context.Context, p model.Poll, opts []model.Option) error
	LoadPoll(ctx context.Context, id string) (model.PollState, error)
	ListPolls(ctx context.Context, groupID string, statuses ...model.Status) ([]model.Poll, error)
	AttachMessage(ctx context.Context, pollID string, ref model.MessageRef) error

	UpsertVote(ctx context.Context, v model.Vote) error
	ConfirmPoll(ctx context.Context, pollID, optionID string) error
	CancelPoll(ctx context.Context, pollID string) error
	SetDeadline(ctx context.Context, pollID string, deadline time.Time) error
}

// Snapshot is a render-ready view of one poll. Tallies is parallel to
// Options.
type Snapshot struct {
	Group   model.Group
	Poll    model.Poll
	Options []model.Option
	Tallies []Tally
}

// MostPopular returns the option with the most Yes votes, lowest position
// first on ties. It is a display hint only.
func (s Snapshot) MostPopular() (model.Option, Tally, bool) {
	best, ok := MostPopular(s.Tallies)
	if !ok {
		return model.Option{}, Tally{}, false
	}
	for _, o := range s.Options {
		if o.ID == best.OptionID {
			return o, best, true
		}
	}
	return model.Option{}, Tally{}, false
}

func (s Snapshot) TallyFor(optionID string) (Tally, bool) {
	for _, t := range s.Tallies {
		if t.OptionID == optionID {
			return t, true
		}
	}
	return Tally{}, false
}

func snapshotOf(st model.PollState) Snapshot {
	return Snapshot{
		Group:   st.Group,
		Poll:    st.Poll,
		Options: st.Options,
		Tallies: TallyVotes(st.Options, st.Votes),
	}
}

// Engine owns the poll state machine. It is safe for concurrent use; all
// coordination between concurrent callers happens in the Store.
type Engine struct {
	store    Store
	clock    clock.Clock
	log      logx.Logger
	bus      eventbus.Bus
	defaults model.GroupSettings
	authz    atomic.Value // authzHolder
}

type authzHolder struct{ a Authorizer }

type EngineOption func(*Engine)

func WithClock(c clock.Clock) EngineOption { return func(e *Engine) { e.clock = c } }

func WithLogger(l logx.Logger) EngineOption { return func(e *Engine) { e.log = l } }

func WithBus(b eventbus.Bus) EngineOption { return func(e *Engine) { e.bus = b } }

func WithAuthorizer(a Authorizer) EngineOption {
	return func(e *Engine) { e.authz.Store(authzHolder{a}) }
}

// WithGroupDefaults sets the settings a newly seen chat starts with.
func WithGroupDefaults(s model.GroupSettings) EngineOption {
	return func(e *Engine) { e.defaults = s }
}

func New(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		clock:    clock.System(),
		log:      logx.Nop(),
		bus:      eventbus.Nop(),
		defaults: model.DefaultGroupSettings(),
	}
	e.authz.Store(authzHolder{CreatorOnly()})
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetAuthorizer swaps the policy at runtime (config reload).
func (e *Engine) SetAuthorizer(a Authorizer) {
	if a == nil {
		a = CreatorOnly()
	}
	e.authz.Store(authzHolder{a})
}

func (e *Engine) authorizer() Authorizer {
	h, _ := e.authz.Load().(authzHolder)
	if h.a == nil {
		return CreatorOnly()
	}
	return h.a
}

func (e *Engine) publish(typ string, ev eventbus.PollEvent) {
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.clock.Now(), Data: ev})
}

// EnsureGroup returns the group bound to chatID, creating it on first use.
func (e *Engine) EnsureGroup(ctx context.Context, chatID int64) (model.Group, error) {
	return e.store.EnsureGroup(ctx, chatID, e.defaults, e.clock.Now())
}

// UpdateGroupSettings applies patch to the group's settings.
func (e *Engine) UpdateGroupSettings(ctx context.Context, groupID string, patch SettingsPatch) (model.Group, error) {
	g, err := e.store.UpdateGroupSettings(ctx, groupID, patch.apply)
	if err != nil {
		return model.Group{}, err
	}
	next := g.Settings
	e.log.Info("group settings updated",
		logx.String("group", groupID),
		logx.String("tz", next.Timezone),
		logx.Duration("duration", next.DefaultDuration),
		logx.Duration("lead", next.ReminderLead),
	)
	return g, nil
}

// CreateRequest describes a new poll.
type CreateRequest struct {
	GroupID  string
	Title    string
	Options  []OptionInput
	Creator  model.Member
	Deadline *time.Time
	// Message is where the poll will be shown; MessageID is usually filled
	// in later through AttachMessage.
	Message model.MessageRef
}

// CreatePoll validates req and persists an Active poll with all of its
// options in one transaction.
func (e *Engine) CreatePoll(ctx context.Context, req CreateRequest) (Snapshot, error) {
	now := e.clock.Now()
	title, err := cleanTitle(req.Title)
	if err != nil {
		return Snapshot{}, err
	}
	if err := validateOptions(req.Options); err != nil {
		return Snapshot{}, err
	}
	var deadline *time.Time
	if req.Deadline != nil {
		if err := validateDeadline(*req.Deadline, now); err != nil {
			return Snapshot{}, err
		}
		d := req.Deadline.UTC().Truncate(time.Millisecond)
		deadline = &d
	}

	p := model.Poll{
		ID:        model.NewID(),
		GroupID:   req.GroupID,
		Title:     title,
		Message:   req.Message,
		Status:    model.StatusActive,
		Deadline:  deadline,
		CreatedBy: req.Creator.ID,
		CreatedAt: now.UTC(),
	}
	opts := make([]model.Option, len(req.Options))
	for i, in := range req.Options {
		opts[i] = model.Option{
			ID:       model.NewID(),
			PollID:   p.ID,
			Position: i + 1,
			StartsAt: in.StartsAt.UTC(),
			Duration: in.Duration,
		}
	}
	if err := e.store.CreatePoll(ctx, p, opts); err != nil {
		return Snapshot{}, err
	}

	e.log.Info("poll created",
		logx.String("poll", p.ID),
		logx.String("group", p.GroupID),
		logx.Int("options", len(opts)),
		logx.Int64("creator", req.Creator.ID),
	)
	e.publish(eventbus.PollCreated, eventbus.PollEvent{PollID: p.ID, GroupID: p.GroupID, ActorID: req.Creator.ID})
	return e.Snapshot(ctx, p.ID)
}

// CastVote records voter's value on one option, replacing their previous
// vote on that option. It returns the updated snapshot.
func (e *Engine) CastVote(ctx context.Context, pollID, optionID string, voter model.Member, value model.VoteValue) (Snapshot, error) {
	if !value.Valid() {
		return Snapshot{}, model.Invalid("value", "unknown vote value %q", value)
	}
	if voter.ID == 0 {
		return Snapshot{}, model.Invalid("voter", "voter is required")
	}
	v := model.Vote{
		ID:        model.NewID(),
		PollID:    pollID,
		OptionID:  optionID,
		VoterID:   voter.ID,
		VoterName: cleanName(voter.Name),
		Value:     value,
		VotedAt:   e.clock.Now().UTC(),
	}
	if err := e.store.UpsertVote(ctx, v); err != nil {
		return Snapshot{}, err
	}

	e.log.Debug("vote cast",
		logx.String("poll", pollID),
		logx.String("option", optionID),
		logx.Int64("voter", voter.ID),
		logx.String("value", string(value)),
	)
	e.publish(eventbus.PollVoted, eventbus.PollEvent{PollID: pollID, ActorID: voter.ID, OptionID: optionID, Value: string(value)})
	return e.Snapshot(ctx, pollID)
}

// ConfirmPoll commits the poll to one option. It can succeed at most once
// per poll.
func (e *Engine) ConfirmPoll(ctx context.Context, pollID, optionID string, actor model.Member) (Snapshot, error) {
	st, err := e.store.LoadPoll(ctx, pollID)
	if err != nil {
		return Snapshot{}, err
	}
	if !st.Poll.Status.CanTransition(model.StatusConfirmed) {
		return Snapshot{}, &model.TransitionError{PollID: pollID, From: st.Poll.Status, To: model.StatusConfirmed}
	}
	if !hasOption(st.Options, optionID) {
		return Snapshot{}, model.ErrOptionNotFound
	}
	if err := e.authorizer().Authorize(ctx, ActionConfirm, actor, st.Poll); err != nil {
		return Snapshot{}, err
	}
	if err := e.store.ConfirmPoll(ctx, pollID, optionID); err != nil {
		return Snapshot{}, err
	}

	e.log.Info("poll confirmed",
		logx.String("poll", pollID),
		logx.String("option", optionID),
		logx.Int64("actor", actor.ID),
	)
	e.publish(eventbus.PollConfirmed, eventbus.PollEvent{PollID: pollID, GroupID: st.Poll.GroupID, ActorID: actor.ID, OptionID: optionID})
	return e.Snapshot(ctx, pollID)
}

// CancelPoll closes an Active poll without choosing a slot. Options and
// votes are kept.
func (e *Engine) CancelPoll(ctx context.Context, pollID string, actor model.Member) (Snapshot, error) {
	st, err := e.store.LoadPoll(ctx, pollID)
	if err != nil {
		return Snapshot{}, err
	}
	if !st.Poll.Status.CanTransition(model.StatusCancelled) {
		return Snapshot{}, &model.TransitionError{PollID: pollID, From: st.Poll.Status, To: model.StatusCancelled}
	}
	if err := e.authorizer().Authorize(ctx, ActionCancel, actor, st.Poll); err != nil {
		return Snapshot{}, err
	}
	if err := e.store.CancelPoll(ctx, pollID); err != nil {
		return Snapshot{}, err
	}

	e.log.Info("poll cancelled", logx.String("poll", pollID), logx.Int64("actor", actor.ID))
	e.publish(eventbus.PollCancelled, eventbus.PollEvent{PollID: pollID, GroupID: st.Poll.GroupID, ActorID: actor.ID})
	return e.Snapshot(ctx, pollID)
}

// SetDeadline replaces the response deadline of an Active poll. A deadline
// in the past is rejected with ErrInvalidDeadline and nothing changes.
func (e *Engine) SetDeadline(ctx context.Context, pollID string, deadline time.Time, actor model.Member) (Snapshot, error) {
	if err := validateDeadline(deadline, e.clock.Now()); err != nil {
		return Snapshot{}, err
	}
	st, err := e.store.LoadPoll(ctx, pollID)
	if err != nil {
		return Snapshot{}, err
	}
	if st.Poll.Status != model.StatusActive {
		return Snapshot{}, &model.TransitionError{PollID: pollID, From: st.Poll.Status}
	}
	if err := e.authorizer().Authorize(ctx, ActionDeadline, actor, st.Poll); err != nil {
		return Snapshot{}, err
	}
	deadline = deadline.UTC().Truncate(time.Millisecond)
	if err := e.store.SetDeadline(ctx, pollID, deadline); err != nil {
		return Snapshot{}, err
	}

	e.log.Info("poll deadline set",
		logx.String("poll", pollID),
		logx.Time("deadline", deadline),
		logx.Int64("actor", actor.ID),
	)
	e.publish(eventbus.PollDeadlineSet, eventbus.PollEvent{PollID: pollID, GroupID: st.Poll.GroupID, ActorID: actor.ID})
	return e.Snapshot(ctx, pollID)
}

// Snapshot reads the current render-ready state of a poll.
func (e *Engine) Snapshot(ctx context.Context, pollID string) (Snapshot, error) {
	st, err := e.store.LoadPoll(ctx, pollID)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(st), nil
}

// ListPolls returns the polls of a group, newest first, optionally filtered
// by status.
func (e *Engine) ListPolls(ctx context.Context, groupID string, statuses ...model.Status) ([]model.Poll, error) {
	return e.store.ListPolls(ctx, groupID, statuses...)
}

// AttachMessage remembers which chat message renders the poll.
func (e *Engine) AttachMessage(ctx context.Context, pollID string, ref model.MessageRef) error {
	return e.store.AttachMessage(ctx, pollID, ref)
}

func hasOption(opts []model.Option, id string) bool {
	for _, o := range opts {
		if o.ID == id {
			return true
		}
	}
	return false
}
