package model

import (
	"errors"
	"fmt"
)

// Error classes. Callers match with errors.Is against these, never against
// message text.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("conflict")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrForbidden         = errors.New("forbidden")
)

var (
	ErrGroupNotFound  = fmt.Errorf("group %w", ErrNotFound)
	ErrPollNotFound   = fmt.Errorf("poll %w", ErrNotFound)
	ErrOptionNotFound = fmt.Errorf("option %w", ErrNotFound)

	// ErrPollNotOpen is returned when a vote targets a poll that is no longer Active.
	ErrPollNotOpen = fmt.Errorf("%w: poll is not open", ErrInvalidTransition)

	ErrInvalidDeadline = &ValidationError{Field: "deadline", Msg: "deadline is in the past"}
)

// ValidationError describes malformed input rejected before any write.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// TransitionError reports an operation attempted against a poll in the wrong state.
type TransitionError struct {
	PollID string
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("poll %s is %s", e.PollID, e.From)
	}
	return fmt.Sprintf("poll %s cannot move from %s to %s", e.PollID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
