package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an aggregate or record id does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrConcurrencyConflict is returned when a save lost the optimistic version race.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrInvalidTransition is wrapped by every TransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidWaypoint covers route operations that break waypoint ordering.
	ErrInvalidWaypoint = errors.New("invalid waypoint operation")
	// ErrValidation is wrapped by every ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrRequestInProgress is returned when a request id is being executed by another caller.
	ErrRequestInProgress = errors.New("request is already being processed")
)

// TransitionError is raised when a state machine guard rejects a status change.
type TransitionError struct {
	Aggregate string
	ID        string
	From      string
	To        string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot change status from %s to %s", e.Aggregate, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// AlreadyInTarget reports whether the rejected transition targeted the current status.
func (e *TransitionError) AlreadyInTarget() bool {
	return e.From == e.To
}

// IsAlreadyInTarget reports whether err is a TransitionError whose aggregate
// already sits in the requested status.
func IsAlreadyInTarget(err error) bool {
	var te *TransitionError
	return errors.As(err, &te) && te.AlreadyInTarget()
}

// ValidationError reports a malformed value rejected by an aggregate.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
