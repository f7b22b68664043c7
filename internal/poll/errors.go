package poll

import "pollbot/internal/model"

// Error classes and sentinels, re-exported so transport code can match on
// poll.ErrX without importing the model package.
var (
	ErrValidation        = model.ErrValidation
	ErrNotFound          = model.ErrNotFound
	ErrInvalidTransition = model.ErrInvalidTransition
	ErrConflict          = model.ErrConflict
	ErrStoreUnavailable  = model.ErrStoreUnavailable
	ErrForbidden         = model.ErrForbidden

	ErrGroupNotFound   = model.ErrGroupNotFound
	ErrPollNotFound    = model.ErrPollNotFound
	ErrOptionNotFound  = model.ErrOptionNotFound
	ErrPollNotOpen     = model.ErrPollNotOpen
	ErrInvalidDeadline = model.ErrInvalidDeadline
)

type (
	ValidationError = model.ValidationError
	TransitionError = model.TransitionError
)
