package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"pollbot/internal/model"
	"pollbot/internal/poll"
	kit "pollbot/internal/transport"
	logx "pollbot/pkg/logx"
	"pollbot/pkg/tgui"
)

type command struct {
	name      string
	usage     string
	desc      string
	ownerOnly bool
	handle    HandlerFunc
}

func (r *Router) commands() map[string]command {
	list := []command{
		{name: "poll", usage: "/poll Title | YYYY-MM-DD HH:MM[/min] | ...", desc: "start a scheduling poll", handle: r.cmdPoll},
		{name: "deadline", usage: "/deadline <poll> YYYY-MM-DD HH:MM", desc: "set when voting closes", handle: r.cmdDeadline},
		{name: "confirm", usage: "/confirm <poll> <option>", desc: "lock in an option", handle: r.cmdConfirm},
		{name: "cancel", usage: "/cancel <poll>", desc: "call a poll off", handle: r.cmdCancel},
		{name: "list", usage: "/list", desc: "show this chat's polls", handle: r.cmdList},
		{name: "settings", usage: "/settings [tz Zone] [duration min] [lead 24h]", desc: "show or change chat defaults", handle: r.cmdSettings},
		{name: "remind_now", usage: "/remind_now", desc: "run the reminder check now", ownerOnly: true, handle: r.cmdRemindNow},
		{name: "help", usage: "/help", desc: "show commands", handle: r.cmdHelp},
	}
	out := make(map[string]command, len(list))
	for _, c := range list {
		out[c.name] = c
	}
	return out
}

func (r *Router) menu() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(r.cmds))
	for _, name := range commandOrder {
		c, ok := r.cmds[name]
		if !ok || c.ownerOnly {
			continue
		}
		out = append(out, kit.BotCommand{Command: c.name, Description: c.desc})
	}
	return out
}

var commandOrder = []string{"poll", "list", "confirm", "cancel", "deadline", "settings", "remind_now", "help"}

func (r *Router) send(ctx context.Context, to kit.ChatTarget, m tgui.Message) (kit.MessageRef, error) {
	return m.Send(ctx, r.adapter, to)
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	b := tgui.New().Title("🗓", "Scheduling polls")
	for _, name := range commandOrder {
		c, ok := r.cmds[name]
		if !ok || (c.ownerOnly && !r.isOwner(req.From.ID)) {
			continue
		}
		b.HTML(tgui.JoinH(" ", tgui.Code(c.usage), tgui.Esc("· "+c.desc)))
	}
	b.Blank().Line("Dates use the chat timezone. Vote with the buttons under a poll.")
	_, err := r.send(ctx, req.Chat, b.Build())
	return err
}

func (r *Router) cmdPoll(ctx context.Context, req *Request) error {
	g, err := r.engine.EnsureGroup(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	title, opts, err := parsePollArgs(req.Args, g.Location(), g.Settings.DefaultDuration)
	if err != nil {
		return err
	}
	snap, err := r.engine.CreatePoll(ctx, poll.CreateRequest{
		GroupID: g.ID,
		Title:   title,
		Options: opts,
		Creator: req.Member(),
		Message: model.MessageRef{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID},
	})
	if err != nil {
		return err
	}
	ref, err := r.send(ctx, req.Chat, renderSnapshot(snap))
	if err != nil {
		return fmt.Errorf("post poll %s: %w", snap.Poll.ID, err)
	}
	if err := r.engine.AttachMessage(ctx, snap.Poll.ID, model.MessageRef{ChatID: ref.ChatID, ThreadID: ref.ThreadID, MessageID: ref.MessageID}); err != nil {
		// The poll still works through callbacks on the posted message.
		req.Log.Warn("attach message failed", logx.Err(err), logx.String("poll", snap.Poll.ID))
	}
	return nil
}

// pollAndArg resolves the leading poll reference in args and returns the
// rest of the text.
func (r *Router) pollAndArg(ctx context.Context, req *Request) (model.Group, string, string, error) {
	g, err := r.engine.EnsureGroup(ctx, req.Chat.ChatID)
	if err != nil {
		return g, "", "", err
	}
	ref, rest, _ := strings.Cut(req.Args, " ")
	id, err := r.resolvePoll(ctx, g, ref)
	return g, id, strings.TrimSpace(rest), err
}

func (r *Router) cmdDeadline(ctx context.Context, req *Request) error {
	g, id, rest, err := r.pollAndArg(ctx, req)
	if err != nil {
		return err
	}
	when, err := parseWhen(rest, g.Location())
	if err != nil {
		return err
	}
	snap, err := r.engine.SetDeadline(ctx, id, when, req.Member())
	if err != nil {
		return err
	}
	r.refresh(ctx, req, snap)
	r.reply(ctx, req.Chat, "Voting on "+snap.Poll.Title+" closes "+when.Format(slotLayout+" MST")+".")
	return nil
}

func (r *Router) cmdConfirm(ctx context.Context, req *Request) error {
	_, id, rest, err := r.pollAndArg(ctx, req)
	if err != nil {
		return err
	}
	pos, err := strconv.Atoi(rest)
	if err != nil {
		return model.Invalid("option", "usage: /confirm <poll> <option number>")
	}
	snap, err := r.engine.Snapshot(ctx, id)
	if err != nil {
		return err
	}
	return r.confirm(ctx, req, snap, pos)
}

func (r *Router) confirm(ctx context.Context, req *Request, snap poll.Snapshot, pos int) error {
	opt, ok := optionAt(snap, pos)
	if !ok {
		return model.ErrOptionNotFound
	}
	snap, err := r.engine.ConfirmPoll(ctx, snap.Poll.ID, opt.ID, req.Member())
	if err != nil {
		return err
	}
	r.refresh(ctx, req, snap)
	when := opt.StartsAt.In(snap.Group.Location()).Format(slotLayout)
	m := tgui.New().
		Title("📌", snap.Poll.Title).
		HTML(tgui.JoinH(" ", tgui.Esc("Confirmed for"), tgui.B(when))).
		Build()
	_, err = r.send(ctx, req.Chat, m)
	return err
}

func (r *Router) cmdCancel(ctx context.Context, req *Request) error {
	_, id, _, err := r.pollAndArg(ctx, req)
	if err != nil {
		return err
	}
	return r.cancel(ctx, req, id)
}

func (r *Router) cancel(ctx context.Context, req *Request, pollID string) error {
	snap, err := r.engine.CancelPoll(ctx, pollID, req.Member())
	if err != nil {
		return err
	}
	r.refresh(ctx, req, snap)
	r.reply(ctx, req.Chat, snap.Poll.Title+" was cancelled.")
	return nil
}

func (r *Router) cmdList(ctx context.Context, req *Request) error {
	g, err := r.engine.EnsureGroup(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	polls, err := r.engine.ListPolls(ctx, g.ID, model.StatusActive, model.StatusConfirmed)
	if err != nil {
		return err
	}
	_, err = r.send(ctx, req.Chat, renderList(polls, g.Location()))
	return err
}

func (r *Router) cmdSettings(ctx context.Context, req *Request) error {
	g, err := r.engine.EnsureGroup(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if args := strings.Fields(req.Args); len(args) > 0 {
		patch, err := parseSettings(args)
		if err != nil {
			return err
		}
		if g, err = r.engine.UpdateGroupSettings(ctx, g.ID, patch); err != nil {
			return err
		}
	}
	_, err = r.send(ctx, req.Chat, renderSettings(g))
	return err
}

func (r *Router) cmdRemindNow(ctx context.Context, req *Request) error {
	if r.reminders == nil {
		r.reply(ctx, req.Chat, "Reminders are not running.")
		return nil
	}
	rep, err := r.reminders.RunOnce(ctx)
	if err != nil {
		return err
	}
	r.reply(ctx, req.Chat, fmt.Sprintf("Reminder check: %d polls, %d sent, %d already sent, %d failed.",
		rep.Polls, rep.Sent, rep.Skipped, rep.Failed))
	return nil
}

// refresh re-renders the poll message in place. A failed edit is logged;
// the state change it reflects has already happened.
func (r *Router) refresh(ctx context.Context, req *Request, snap poll.Snapshot) {
	ref := snap.Poll.Message
	if cb := req.Update.Callback; cb != nil && cb.MessageID != 0 {
		ref = model.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	}
	if ref.MessageID == 0 {
		return
	}
	err := renderSnapshot(snap).Edit(ctx, r.adapter, kit.MessageRef{ChatID: ref.ChatID, ThreadID: ref.ThreadID, MessageID: ref.MessageID})
	if err != nil {
		req.Log.Warn("poll message refresh failed", logx.Err(err), logx.String("poll", snap.Poll.ID))
	}
}

func optionAt(s poll.Snapshot, pos int) (model.Option, bool) {
	for _, o := range s.Options {
		if o.Position == pos {
			return o, true
		}
	}
	return model.Option{}, false
}
