package core

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateRequest    = errors.New("duplicate request")
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrPreconditionFailed  = errors.New("precondition failed")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrConflict            = errors.New("status conflict")

	ErrInvalidInput = errors.New("invalid input")
	ErrMissingUser  = fmt.Errorf("%w: user id is required", ErrInvalidInput)
)

// TransitionError is returned when a terminal top-up is asked to move to a
// different status. It matches both ErrInvalidTransition and ErrConflict.
type TransitionError struct {
	Reference string
	From      TopUpStatus
	To        TopUpStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("top-up %s: cannot move from %s to %s", e.Reference, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition || target == ErrConflict
}

// IsUserError reports errors that are rejected immediately as bad input.
func IsUserError(err error) bool {
	return errors.Is(err, ErrDuplicateRequest) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidInput)
}

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
