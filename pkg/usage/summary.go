package usage

import (
	"context"
	"slices"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// ResourceUsage is one line of a usage summary.
type ResourceUsage struct {
	Resource   Resource `json:"resource"`
	Current    int64    `json:"current"`
	AllTime    int64    `json:"all_time"`
	Limit      int64    `json:"limit"`
	Percentage float64  `json:"percentage"`
}

// Summary is a user's usage against their plan.
type Summary struct {
	UserID      string          `json:"user_id"`
	PlanID      string          `json:"plan_id,omitempty"`
	PlanName    string          `json:"plan_name,omitempty"`
	Active      bool            `json:"active"`
	Resources   []ResourceUsage `json:"resources"`
	LastResetAt time.Time       `json:"last_reset_at"`
	NextResetAt time.Time       `json:"next_reset_at"`
}

// Summary reports every resource the user's plan limits or the user has
// counted, sorted by resource. Without an entitled plan the limit of every
// resource is 0.
func (g *Gate) Summary(ctx context.Context, userID string) (*Summary, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	plan, ok, err := g.entitledPlan(ctx, userID)
	if err != nil {
		return nil, err
	}
	u, err := g.tracker.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := &Summary{
		UserID:      userID,
		Active:      ok,
		LastResetAt: u.LastResetAt,
		NextResetAt: u.NextResetAt(),
	}
	var kinds []Resource
	if ok {
		out.PlanID, out.PlanName = plan.ID, plan.Name
		kinds = PlanResources(plan)
	}
	for k := range u.Total {
		if !slices.Contains(kinds, k) {
			kinds = append(kinds, k)
		}
	}
	slices.Sort(kinds)

	for _, kind := range kinds {
		d := Decision{Resource: kind, Current: u.Current(kind), Reason: ReasonWithinLimit}
		if ok {
			limit, limited := LimitFor(plan, kind)
			switch {
			case !limited:
				d.Reason, d.Limit = ReasonNotApplicable, subscription.Unlimited
			case limit == subscription.Unlimited:
				d.Reason, d.Limit = ReasonUnlimited, subscription.Unlimited
			default:
				d.Limit = limit
			}
		}
		out.Resources = append(out.Resources, ResourceUsage{
			Resource:   kind,
			Current:    d.Current,
			AllTime:    u.AllTime(kind),
			Limit:      d.Limit,
			Percentage: d.Percentage(),
		})
	}
	return out, nil
}
