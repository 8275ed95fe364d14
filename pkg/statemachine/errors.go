package statemachine

import (
	"errors"
	"fmt"
)

// NoTransitionError indicates no transition is registered for the state/event pair.
type NoTransitionError struct {
	From  any
	Event any
}

func (e *NoTransitionError) Error() string {
	return fmt.Sprintf("no transition available from state '%v' for event '%v'", e.From, e.Event)
}

// RejectedError indicates every candidate transition was blocked by its guards.
type RejectedError struct {
	From  any
	Event any
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transition from state '%v' for event '%v' was rejected by guards", e.From, e.Event)
}

// ActionError wraps a failing transition action.
type ActionError struct {
	From  any
	Event any
	Err   error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action failed on '%v' from state '%v': %v", e.Event, e.From, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// InvalidTransitionError reports a transition definition without source states.
type InvalidTransitionError struct {
	Index int
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transition[%d] has no source states", e.Index)
}

func IsNoTransitionError(err error) bool {
	var e *NoTransitionError
	return errors.As(err, &e)
}

func IsRejectedError(err error) bool {
	var e *RejectedError
	return errors.As(err, &e)
}
