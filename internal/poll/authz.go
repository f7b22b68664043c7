package poll

import (
	"context"
	"fmt"

	"pollbot/internal/model"
)

type Action string

const (
	ActionConfirm  Action = "confirm"
	ActionCancel   Action = "cancel"
	ActionDeadline Action = "deadline"
)

// Authorizer decides whether actor may perform action on p. It runs after
// the existence checks and before any write. Returning a non-nil error
// aborts the operation; implementations should wrap ErrForbidden.
type Authorizer interface {
	Authorize(ctx context.Context, action Action, actor model.Member, p model.Poll) error
}

type AuthorizerFunc func(ctx context.Context, action Action, actor model.Member, p model.Poll) error

func (f AuthorizerFunc) Authorize(ctx context.Context, action Action, actor model.Member, p model.Poll) error {
	return f(ctx, action, actor, p)
}

// AllowAll lets any group member manage any poll.
func AllowAll() Authorizer {
	return AuthorizerFunc(func(context.Context, Action, model.Member, model.Poll) error { return nil })
}

// CreatorOnly allows the poll creator, plus any of the listed owner ids.
func CreatorOnly(owners ...int64) Authorizer {
	set := make(map[int64]struct{}, len(owners))
	for _, id := range owners {
		set[id] = struct{}{}
	}
	return AuthorizerFunc(func(_ context.Context, action Action, actor model.Member, p model.Poll) error {
		if actor.ID == p.CreatedBy {
			return nil
		}
		if _, ok := set[actor.ID]; ok {
			return nil
		}
		return fmt.Errorf("%w: only the poll creator can %s it", model.ErrForbidden, action)
	})
}

// PolicyAuthorizer maps a config policy name to an Authorizer.
// Unknown names fall back to creator-only.
func PolicyAuthorizer(policy string, owners ...int64) Authorizer {
	switch policy {
	case "anyone", "any", "all":
		return AllowAll()
	default:
		return CreatorOnly(owners...)
	}
}
