package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/statemachine"
)

// Trigger is an event that moves a subscription between statuses.
type Trigger string

const (
	TriggerProviderActive   Trigger = "provider_active"
	TriggerProviderTrialing Trigger = "provider_trialing"
	TriggerProviderPastDue  Trigger = "provider_past_due"
	TriggerProviderCanceled Trigger = "provider_canceled"
	TriggerProviderUnpaid   Trigger = "provider_unpaid"
	TriggerProviderDeleted  Trigger = "provider_deleted"
	TriggerUserCancel       Trigger = "user_cancel"
	TriggerSuperseded       Trigger = "superseded"
	TriggerUserResume       Trigger = "user_resume"
	TriggerExpire           Trigger = "expire"
)

// triggerFor maps a normalized provider status to its trigger.
func triggerFor(s ProviderStatus) (Trigger, bool) {
	switch s {
	case ProviderActive:
		return TriggerProviderActive, true
	case ProviderTrialing:
		return TriggerProviderTrialing, true
	case ProviderPastDue:
		return TriggerProviderPastDue, true
	case ProviderCanceled:
		return TriggerProviderCanceled, true
	case ProviderUnpaid:
		return TriggerProviderUnpaid, true
	}
	return "", false
}

type transitionInput struct {
	policy PastDuePolicy
	sub    *Subscription
	now    time.Time
}

var liveStatuses = []Status{StatusActive, StatusTrialing, StatusPastDue}

func strictPastDue(_ context.Context, _ Status, _ Trigger, data any) bool {
	in, ok := data.(transitionInput)
	return ok && in.policy == StrictPastDue
}

func notEnded(_ context.Context, _ Status, _ Trigger, data any) bool {
	in, ok := data.(transitionInput)
	return ok && in.sub != nil && in.sub.EndsAt.After(in.now)
}

// lifecycle is the subscription transition table. Canceled and expired are
// terminal for provider events; only a user resume leaves canceled.
var lifecycle = statemachine.MustNew(
	statemachine.Transition[Status, Trigger]{From: liveStatuses, Event: TriggerProviderActive, To: StatusActive},
	statemachine.Transition[Status, Trigger]{From: liveStatuses, Event: TriggerProviderTrialing, To: StatusTrialing},
	statemachine.Transition[Status, Trigger]{
		From:   liveStatuses,
		Event:  TriggerProviderPastDue,
		To:     StatusPastDue,
		Guards: []statemachine.Guard[Status, Trigger]{strictPastDue},
	},
	statemachine.Transition[Status, Trigger]{From: liveStatuses, Event: TriggerProviderPastDue, To: StatusActive},
	statemachine.Transition[Status, Trigger]{From: liveStatuses, Event: TriggerProviderCanceled, To: StatusCanceled},
	statemachine.Transition[Status, Trigger]{From: liveStatuses, Event: TriggerProviderUnpaid, To: StatusExpired},
	statemachine.Transition[Status, Trigger]{From: liveStatuses, Event: TriggerProviderDeleted, To: StatusCanceled},
	statemachine.Transition[Status, Trigger]{From: liveStatuses, Event: TriggerUserCancel, To: StatusCanceled},
	statemachine.Transition[Status, Trigger]{From: liveStatuses, Event: TriggerSuperseded, To: StatusCanceled},
	statemachine.Transition[Status, Trigger]{
		From:   []Status{StatusCanceled},
		Event:  TriggerUserResume,
		To:     StatusActive,
		Guards: []statemachine.Guard[Status, Trigger]{notEnded},
	},
	statemachine.Transition[Status, Trigger]{From: liveStatuses, Event: TriggerExpire, To: StatusExpired},
)

// NextStatus returns the status the subscription reaches when trigger fires
// under the given past-due policy. It returns ErrInvalidTransition when no
// transition is permitted.
func NextStatus(ctx context.Context, sub *Subscription, trigger Trigger, policy PastDuePolicy, now time.Time) (Status, error) {
	to, err := lifecycle.Fire(ctx, sub.Status, trigger, transitionInput{policy: policy, sub: sub, now: now})
	if err != nil {
		return sub.Status, errors.Join(ErrInvalidTransition, err)
	}
	return to, nil
}

// CanTransition reports whether trigger is permitted for the subscription now.
func CanTransition(ctx context.Context, sub *Subscription, trigger Trigger, policy PastDuePolicy, now time.Time) bool {
	return lifecycle.CanFire(ctx, sub.Status, trigger, transitionInput{policy: policy, sub: sub, now: now})
}
