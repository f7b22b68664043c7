package router

import (
	"context"
	"strconv"

	"pollbot/internal/model"
	"pollbot/internal/poll"
	"pollbot/pkg/tgui"
)

// Callback data layout, all under the "p" prefix:
//
//	p:v:<poll>:<position>:<y|m|n>   vote
//	p:c:<poll>:<position>           confirm
//	p:x:<poll>                      cancel
const (
	cbPrefix  = "p"
	cbVote    = "v"
	cbConfirm = "c"
	cbCancel  = "x"
)

type callback struct {
	action string
	pollID string
	pos    int
	vote   model.VoteValue
}

// splitCallback parses callback data; nil means it is not ours or is
// malformed.
func splitCallback(data string) *callback {
	parts := tgui.SplitData(data)
	if len(parts) < 3 || parts[0] != cbPrefix || parts[2] == "" {
		return nil
	}
	cb := &callback{action: parts[1], pollID: parts[2]}
	switch cb.action {
	case cbVote:
		if len(parts) != 5 {
			return nil
		}
		v, ok := voteFromCode(parts[4])
		if !ok {
			return nil
		}
		cb.vote = v
		fallthrough
	case cbConfirm:
		if len(parts) < 4 {
			return nil
		}
		n, err := strconv.Atoi(parts[3])
		if err != nil || n <= 0 {
			return nil
		}
		cb.pos = n
	case cbCancel:
		if len(parts) != 3 {
			return nil
		}
	default:
		return nil
	}
	return cb
}

func (r *Router) handleCallback(ctx context.Context, req *Request, cb callback) error {
	snap, err := r.engine.Snapshot(ctx, cb.pollID)
	if err != nil {
		return err
	}
	// Buttons are only honoured in the chat that owns the poll.
	if snap.Group.ChatID != req.Chat.ChatID {
		return model.ErrPollNotFound
	}
	switch cb.action {
	case cbVote:
		return r.vote(ctx, req, snap, cb)
	case cbConfirm:
		return r.confirm(ctx, req, snap, cb.pos)
	case cbCancel:
		return r.cancel(ctx, req, snap.Poll.ID)
	}
	return nil
}

func (r *Router) vote(ctx context.Context, req *Request, snap poll.Snapshot, cb callback) error {
	opt, ok := optionAt(snap, cb.pos)
	if !ok {
		return model.ErrOptionNotFound
	}
	snap, err := r.engine.CastVote(ctx, snap.Poll.ID, opt.ID, req.Member(), cb.vote)
	if err != nil {
		return err
	}
	r.refresh(ctx, req, snap)
	return nil
}
