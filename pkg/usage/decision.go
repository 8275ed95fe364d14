package usage

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// Reason explains a gate decision.
type Reason string

const (
	ReasonWithinLimit          Reason = "within_limit"
	ReasonUnlimited            Reason = "unlimited"
	ReasonNotApplicable        Reason = "not_applicable"
	ReasonLimitReached         Reason = "limit_reached"
	ReasonNoActiveSubscription Reason = "no_active_subscription"
)

// Decision is the outcome of an enforcement check. HigherPlan is set when a
// limit was reached and another plan offers a higher ceiling for the resource.
type Decision struct {
	Allowed    bool     `json:"allowed"`
	Reason     Reason   `json:"reason"`
	Resource   Resource `json:"resource"`
	Current    int64    `json:"current"`
	Limit      int64    `json:"limit"`
	PlanID     string   `json:"plan_id,omitempty"`
	PlanName   string   `json:"plan_name,omitempty"`
	HigherPlan bool     `json:"higher_plan"`
}

// Percentage returns current as a percentage of the limit, rounded to one
// decimal place. Unlimited and ungated resources report 0; a zero ceiling
// reports 100.
func (d Decision) Percentage() float64 {
	switch {
	case d.Reason == ReasonUnlimited, d.Reason == ReasonNotApplicable:
		return 0
	case d.Limit <= 0:
		return 100
	}
	return decimal.NewFromInt(d.Current).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(d.Limit)).
		Round(1).
		InexactFloat64()
}

// Err returns nil for allowed decisions and the matching sentinel otherwise.
func (d Decision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Reason == ReasonNoActiveSubscription:
		return subscription.ErrNoActiveSubscription
	default:
		return ErrLimitReached
	}
}

// Denial is the client payload for a denied gated action.
type Denial struct {
	Error      string   `json:"error"`
	Message    string   `json:"message"`
	Resource   Resource `json:"resource"`
	Current    int64    `json:"current"`
	Limit      int64    `json:"limit"`
	Percentage float64  `json:"percentage"`
	UpgradeURL string   `json:"upgrade_url"`
	CanUpgrade bool     `json:"can_upgrade"`
	PlanName   string   `json:"plan_name"`
}

// Denial builds the payload for a denied decision. It returns nil for
// allowed decisions. CanUpgrade is always true: the payload always points the
// client at the upgrade URL.
func (d Decision) Denial(upgradeURL string) *Denial {
	if d.Allowed {
		return nil
	}
	out := &Denial{
		Error:      "Usage limit reached",
		Resource:   d.Resource,
		Current:    d.Current,
		Limit:      d.Limit,
		Percentage: d.Percentage(),
		UpgradeURL: upgradeURL,
		CanUpgrade: true,
		PlanName:   d.PlanName,
	}
	label := strings.ReplaceAll(string(d.Resource), "_", " ")
	if d.Reason == ReasonNoActiveSubscription {
		out.Error = "No active subscription"
		out.Message = fmt.Sprintf("An active subscription is required to use %s.", label)
		return out
	}
	out.Message = fmt.Sprintf("You have used %d of %d %s allowed on the %s plan.", d.Current, d.Limit, label, d.PlanName)
	return out
}
