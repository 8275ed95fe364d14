package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// SubscriptionFinder returns a user's current subscription.
// *subscription.Ledger satisfies it.
type SubscriptionFinder interface {
	ActiveSubscription(ctx context.Context, userID string) (*subscription.Subscription, error)
}

// PlanFinder looks plans up. *subscription.Catalog satisfies it.
type PlanFinder interface {
	Get(id string) (subscription.Plan, error)
	CanUpgrade(currentID string, limit func(subscription.Plan) (int64, bool)) bool
}

// Gate enforces plan limits on gated actions.
type Gate struct {
	subs       SubscriptionFinder
	plans      PlanFinder
	tracker    *Tracker
	upgradeURL string
	metrics    *Metrics
	log        *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithUpgradeURL sets the upgrade link returned in denial payloads.
func WithUpgradeURL(url string) GateOption {
	return func(g *Gate) { g.upgradeURL = url }
}

// WithMetrics enables decision metrics.
func WithMetrics(m *Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// WithGateLogger sets the gate logger.
func WithGateLogger(log *slog.Logger) GateOption {
	return func(g *Gate) {
		if log != nil {
			g.log = log
		}
	}
}

// NewGate creates a Gate. It panics on nil dependencies.
func NewGate(subs SubscriptionFinder, plans PlanFinder, tracker *Tracker, opts ...GateOption) *Gate {
	if subs == nil || plans == nil || tracker == nil {
		panic("usage: gate requires a subscription finder, plan finder and tracker")
	}
	g := &Gate{
		subs:       subs,
		plans:      plans,
		tracker:    tracker,
		upgradeURL: "/pricing",
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With(logger.Component("usage_gate"))
	return g
}

// UpgradeURL returns the configured upgrade link.
func (g *Gate) UpgradeURL() string { return g.upgradeURL }

// Tracker returns the tracker the gate counts with.
func (g *Gate) Tracker() *Tracker { return g.tracker }

// Denial builds the denial payload for d using the gate's upgrade link.
func (g *Gate) Denial(d Decision) *Denial { return d.Denial(g.upgradeURL) }

// Check reports whether one more unit of kind is allowed without consuming
// it.
func (g *Gate) Check(ctx context.Context, userID string, kind Resource) (Decision, error) {
	return g.decide(ctx, userID, kind, 1, false)
}

// Consume checks and, when allowed, adds n units of kind to the user's
// counters in one atomic step. Denied requests leave counters unchanged.
func (g *Gate) Consume(ctx context.Context, userID string, kind Resource, n int64) (Decision, error) {
	if n <= 0 {
		return Decision{Resource: kind}, fmt.Errorf("%w: %d", ErrInvalidAmount, n)
	}
	return g.decide(ctx, userID, kind, n, true)
}

// Release gives back n units consumed by an action that later failed.
func (g *Gate) Release(ctx context.Context, userID string, kind Resource, n int64) error {
	if _, err := g.tracker.Decrement(ctx, userID, kind, n); err != nil {
		return errors.Join(ErrUsageUnavailable, err)
	}
	return nil
}

func (g *Gate) decide(ctx context.Context, userID string, kind Resource, n int64, consume bool) (Decision, error) {
	d := Decision{Resource: kind}
	if userID == "" {
		return d, ErrMissingUserID
	}
	if !kind.Valid() {
		return d, fmt.Errorf("%w: %q", ErrInvalidResource, kind)
	}

	plan, ok, err := g.entitledPlan(ctx, userID)
	if err != nil {
		return d, err
	}

	var limit int64
	var limited bool
	if ok {
		d.PlanID, d.PlanName = plan.ID, plan.Name
		limit, limited = LimitFor(plan, kind)
	}

	err = g.tracker.Atomic(ctx, userID, func(u *UserUsage) error {
		d.Current = u.Current(kind)
		switch {
		case !ok:
			d.Reason = ReasonNoActiveSubscription
			return nil
		case !limited:
			d.Reason = ReasonNotApplicable
			d.Limit = subscription.Unlimited
		case limit == subscription.Unlimited:
			d.Reason = ReasonUnlimited
			d.Limit = subscription.Unlimited
		case d.Current+n > limit:
			d.Reason = ReasonLimitReached
			d.Limit = limit
			return nil
		default:
			d.Reason = ReasonWithinLimit
			d.Limit = limit
		}
		d.Allowed = true
		if consume {
			u.add(kind, n)
			d.Current = u.Current(kind)
		}
		return nil
	})
	if err != nil {
		return Decision{Resource: kind}, errors.Join(ErrUsageUnavailable, err)
	}

	if d.Reason == ReasonLimitReached {
		d.HigherPlan = g.plans.CanUpgrade(plan.ID, func(p subscription.Plan) (int64, bool) {
			return LimitFor(p, kind)
		})
	}
	g.metrics.record(d)
	if !d.Allowed {
		g.log.InfoContext(ctx, "usage denied",
			logger.UserID(userID),
			logger.Resource(string(kind)),
			logger.Outcome(string(d.Reason)),
			slog.Int64("current", d.Current),
			slog.Int64("limit", d.Limit),
		)
	}
	return d, nil
}

// entitledPlan returns the plan of the user's active or trialing
// subscription. The second result is false when the user has none.
func (g *Gate) entitledPlan(ctx context.Context, userID string) (subscription.Plan, bool, error) {
	sub, err := g.subs.ActiveSubscription(ctx, userID)
	switch {
	case errors.Is(err, subscription.ErrNoActiveSubscription):
		return subscription.Plan{}, false, nil
	case err != nil:
		return subscription.Plan{}, false, fmt.Errorf("failed to load active subscription: %w", err)
	}
	if sub.Status != subscription.StatusActive && sub.Status != subscription.StatusTrialing {
		return subscription.Plan{}, false, nil
	}
	plan, err := g.plans.Get(sub.PlanID)
	if err != nil {
		return subscription.Plan{}, false, fmt.Errorf("plan %q of subscription %s: %w", sub.PlanID, sub.ID, err)
	}
	return plan, true, nil
}
