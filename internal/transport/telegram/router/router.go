// Package router turns chat updates into poll engine calls and renders the
// results back into the chat.
//
// Commands and callbacks are handled on a bounded worker pool. Every
// handler runs behind panic recovery, request logging and a timeout.
package router

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"pollbot/internal/model"
	"pollbot/internal/poll"
	"pollbot/internal/reminder"
	rtsup "pollbot/internal/runtime/supervisor"
	kit "pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

// Engine is the poll lifecycle the router drives.
type Engine interface {
	EnsureGroup(ctx context.Context, chatID int64) (model.Group, error)
	UpdateGroupSettings(ctx context.Context, groupID string, patch poll.SettingsPatch) (model.Group, error)
	CreatePoll(ctx context.Context, req poll.CreateRequest) (poll.Snapshot, error)
	CastVote(ctx context.Context, pollID, optionID string, voter model.Member, value model.VoteValue) (poll.Snapshot, error)
	ConfirmPoll(ctx context.Context, pollID, optionID string, actor model.Member) (poll.Snapshot, error)
	CancelPoll(ctx context.Context, pollID string, actor model.Member) (poll.Snapshot, error)
	SetDeadline(ctx context.Context, pollID string, deadline time.Time, actor model.Member) (poll.Snapshot, error)
	Snapshot(ctx context.Context, pollID string) (poll.Snapshot, error)
	ListPolls(ctx context.Context, groupID string, statuses ...model.Status) ([]model.Poll, error)
	AttachMessage(ctx context.Context, pollID string, ref model.MessageRef) error
}

// Reminders is the manual trigger behind /remind_now.
type Reminders interface {
	RunOnce(ctx context.Context) (reminder.Report, error)
}

type Config struct {
	Owners  []int64
	Workers int
	// Timeout bounds one handler. Default 15s.
	Timeout time.Duration
	// QueueSize bounds pending jobs. Default 256.
	QueueSize int
}

// Request is one routed update.
type Request struct {
	Update kit.Update
	Chat   kit.ChatTarget
	From   kit.Sender
	// Command is the command word or callback action.
	Command string
	// Args is the text after the command word.
	Args  string
	ReqID string
	Log   logx.Logger
}

func (r *Request) Member() model.Member {
	return model.Member{ID: r.From.ID, Name: r.From.DisplayName()}
}

type Router struct {
	engine    Engine
	reminders Reminders
	adapter   kit.Adapter
	log       logx.Logger

	mu     sync.RWMutex
	owners []int64

	workers int
	timeout time.Duration
	jobs    chan func()

	cmds map[string]command
}

func New(cfg Config, engine Engine, reminders Reminders, adapter kit.Adapter, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	r := &Router{
		engine:    engine,
		reminders: reminders,
		adapter:   adapter,
		log:       log,
		owners:    append([]int64(nil), cfg.Owners...),
		workers:   cfg.Workers,
		timeout:   cfg.Timeout,
		jobs:      make(chan func(), cfg.QueueSize),
	}
	r.cmds = r.commands()
	return r
}

// SetOwners swaps the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.owners {
		if o == id {
			return true
		}
	}
	return false
}

// PublishMenu pushes the command list to adapters that support a menu.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	return up.UpdateMenuCommands(ctx, r.menu())
}

// Run consumes updates until ctx ends or the channel closes. Handlers run on
// a fixed worker pool; when the queue is full the user is told to retry.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log))
	for i := 0; i < r.workers; i++ {
		sup.GoRestart("router.worker."+strconv.Itoa(i), r.worker, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("router started", logx.Int("workers", r.workers), logx.Int("queue_cap", cap(r.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-r.jobs:
			job()
		}
	}
}

func (r *Router) enqueue(job func()) bool {
	select {
	case r.jobs <- job:
		return true
	default:
		return false
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.routeCallback(ctx, up)
		}
	}
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from kit.Sender, cmd, args string) *Request {
	rid := model.NewID()[:8]
	return &Request{
		Update:  up,
		Chat:    chat,
		From:    from,
		Command: cmd,
		Args:    args,
		ReqID:   rid,
		Log: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from.ID),
			logx.String("cmd", cmd),
		),
	}
}

func (r *Router) wrap(h HandlerFunc) HandlerFunc {
	return Chain(h, MWPanicRecover(), MWRequestLog(), MWTimeout(r.timeout))
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	word, args := splitCommand(msg.Text)
	if word == "" {
		return
	}
	cmd, ok := r.cmds[word]
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if cmd.ownerOnly && !r.isOwner(msg.From.ID) {
		r.reply(ctx, chat, "This command is for bot owners.")
		return
	}
	req := r.newRequest(up, chat, msg.From, word, args)
	h := r.wrap(cmd.handle)
	if !r.enqueue(func() {
		if err := h(ctx, req); err != nil {
			r.reply(ctx, chat, errorText(err))
		}
	}) {
		r.reply(ctx, chat, "Busy, try again in a moment.")
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	parts := splitCallback(cb.Data)
	if parts == nil {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := r.newRequest(up, chat, cb.From, "cb:"+parts.action, "")
	h := r.wrap(func(ctx context.Context, req *Request) error { return r.handleCallback(ctx, req, *parts) })
	if !r.enqueue(func() {
		text := ""
		if err := h(ctx, req); err != nil {
			text = errorText(err)
		}
		_ = r.adapter.AnswerCallback(ctx, cb.ID, text)
	}) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "Busy, try again.")
	}
}

func (r *Router) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := r.adapter.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		r.log.Warn("reply failed", logx.Err(err), logx.Int64("chat_id", to.ChatID))
	}
}

// isUserError reports errors caused by the request itself rather than by
// the bot.
func isUserError(err error) bool {
	return errors.Is(err, model.ErrValidation) ||
		errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrInvalidTransition) ||
		errors.Is(err, model.ErrForbidden) ||
		errors.Is(err, model.ErrConflict)
}

// resolvePoll accepts a full poll id or a unique prefix of one of the
// chat's polls, as shown by /list.
func (r *Router) resolvePoll(ctx context.Context, g model.Group, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", model.Invalid("poll", "poll id required (see /list)")
	}
	polls, err := r.engine.ListPolls(ctx, g.ID)
	if err != nil {
		return "", err
	}
	var match string
	for _, p := range polls {
		if p.ID == ref {
			return p.ID, nil
		}
		if strings.HasPrefix(p.ID, ref) {
			if match != "" {
				return "", model.Invalid("poll", "%q matches more than one poll", ref)
			}
			match = p.ID
		}
	}
	if match == "" {
		return "", model.ErrPollNotFound
	}
	return match, nil
}
