// Package statemachine provides an immutable, generic transition table.
//
// A Table maps (state, event) pairs to transitions with optional guards and
// actions. It stores no current state: callers load an entity, call Fire with
// its state and receive the next one, which keeps a single Table safe to share
// between goroutines. The subscription ledger uses it to drive subscription
// status changes:
//
//	table := statemachine.MustNew(
//		statemachine.Transition[Status, Trigger]{
//			From:  []Status{StatusActive, StatusTrialing},
//			To:    StatusCanceled,
//			Event: TriggerUserCancel,
//		},
//	)
//	next, err := table.Fire(ctx, sub.Status, TriggerUserCancel, sub)
//
// When several transitions share a (state, event) pair, the first whose
// guards all pass is selected. NoTransitionError and RejectedError tell an
// unsupported event apart from one blocked by a guard.
package statemachine
