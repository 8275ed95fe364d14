package statemachine

import "context"

// Guard reports whether a transition may proceed for the given data.
type Guard[S, E comparable] func(ctx context.Context, from S, event E, data any) bool

// Action runs before the state changes. An error aborts the transition.
type Action[S, E comparable] func(ctx context.Context, from, to S, event E, data any) error

// Transition moves any of the From states to To when Event fires.
type Transition[S, E comparable] struct {
	From    []S
	To      S
	Event   E
	Guards  []Guard[S, E] // all must pass
	Actions []Action[S, E]
}

// Table is an immutable set of transitions. It holds no current state, so a
// single Table can evaluate any number of entities concurrently.
type Table[S, E comparable] struct {
	transitions map[S]map[E][]Transition[S, E]
}

// New builds a transition table. Transitions registered for the same
// (from, event) pair are tried in registration order; the first whose guards
// pass wins.
func New[S, E comparable](transitions ...Transition[S, E]) (*Table[S, E], error) {
	t := &Table[S, E]{transitions: make(map[S]map[E][]Transition[S, E])}
	for i, tr := range transitions {
		if len(tr.From) == 0 {
			return nil, &InvalidTransitionError{Index: i}
		}
		for _, from := range tr.From {
			if _, ok := t.transitions[from]; !ok {
				t.transitions[from] = make(map[E][]Transition[S, E])
			}
			t.transitions[from][tr.Event] = append(t.transitions[from][tr.Event], tr)
		}
	}
	return t, nil
}

// MustNew is like New but panics on an invalid table.
func MustNew[S, E comparable](transitions ...Transition[S, E]) *Table[S, E] {
	t, err := New(transitions...)
	if err != nil {
		panic(err)
	}
	return t
}

// Fire evaluates event against state from and returns the resulting state.
// Actions of the selected transition run in order before the result is
// returned; any action error aborts with the state unchanged.
func (t *Table[S, E]) Fire(ctx context.Context, from S, event E, data any) (S, error) {
	tr, err := t.match(ctx, from, event, data)
	if err != nil {
		return from, err
	}
	for _, action := range tr.Actions {
		if action == nil {
			continue
		}
		if err := action(ctx, from, tr.To, event, data); err != nil {
			return from, &ActionError{From: from, Event: event, Err: err}
		}
	}
	return tr.To, nil
}

// CanFire reports whether event has a transition from state whose guards pass.
func (t *Table[S, E]) CanFire(ctx context.Context, from S, event E, data any) bool {
	_, err := t.match(ctx, from, event, data)
	return err == nil
}

// Events lists the events that have at least one transition from state.
func (t *Table[S, E]) Events(from S) []E {
	events := make([]E, 0, len(t.transitions[from]))
	for e := range t.transitions[from] {
		events = append(events, e)
	}
	return events
}

func (t *Table[S, E]) match(ctx context.Context, from S, event E, data any) (*Transition[S, E], error) {
	candidates := t.transitions[from][event]
	if len(candidates) == 0 {
		return nil, &NoTransitionError{From: from, Event: event}
	}
	for i := range candidates {
		if guardsPass(ctx, candidates[i].Guards, from, event, data) {
			return &candidates[i], nil
		}
	}
	return nil, &RejectedError{From: from, Event: event}
}

func guardsPass[S, E comparable](ctx context.Context, guards []Guard[S, E], from S, event E, data any) bool {
	for _, g := range guards {
		if g != nil && !g(ctx, from, event, data) {
			return false
		}
	}
	return true
}
