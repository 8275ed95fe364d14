package subscription

import (
	"maps"
	"slices"
	"time"
)

// Plan is a sellable plan. Limits maps a limit key such as "max_projects" or
// "storage_gb" to a ceiling; Unlimited (-1) means no ceiling.
type Plan struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Price       Money             `json:"price"`
	Period      Period            `json:"period"`
	Limits      map[string]int64  `json:"limits"`
	Features    []string          `json:"features,omitempty"`
	TrialDays   int               `json:"trial_days,omitempty"`
	Public      bool              `json:"public"`
	PriceIDs    map[string]string `json:"-"` // gateway name -> provider price id
}

// Limit returns the configured ceiling for key.
func (p Plan) Limit(key string) (int64, bool) {
	v, ok := p.Limits[key]
	return v, ok
}

// LimitKeys returns the plan's limit keys in sorted order.
func (p Plan) LimitKeys() []string {
	return slices.Sorted(maps.Keys(p.Limits))
}

// PriceID returns the provider price id configured for the gateway.
func (p Plan) PriceID(gateway string) string {
	return p.PriceIDs[gateway]
}

// TrialEndsAt returns when a trial of the given length started at start ends.
func TrialEndsAt(start time.Time, days int) time.Time {
	return start.AddDate(0, 0, days)
}

// Clone returns a deep copy of the plan.
func (p Plan) Clone() Plan {
	p.Limits = maps.Clone(p.Limits)
	p.Features = slices.Clone(p.Features)
	p.PriceIDs = maps.Clone(p.PriceIDs)
	return p
}

// PlanComparison lists the differences between two plans.
type PlanComparison struct {
	NewFeatures     []string
	LostFeatures    []string
	IncreasedLimits map[string]LimitChange
	DecreasedLimits map[string]LimitChange
	AddedLimits     map[string]int64
	RemovedLimits   map[string]int64
}

// LimitChange is a change of a single limit.
type LimitChange struct {
	From int64
	To   int64
}

// IsDowngrade reports whether any limit decreases or disappears.
func (c *PlanComparison) IsDowngrade() bool {
	return len(c.DecreasedLimits) > 0 || len(c.RemovedLimits) > 0 || len(c.LostFeatures) > 0
}

// ComparePlans returns the differences between the current and target plans.
func ComparePlans(current, target Plan) *PlanComparison {
	c := &PlanComparison{
		IncreasedLimits: make(map[string]LimitChange),
		DecreasedLimits: make(map[string]LimitChange),
		AddedLimits:     make(map[string]int64),
		RemovedLimits:   make(map[string]int64),
	}

	for _, f := range target.Features {
		if !slices.Contains(current.Features, f) {
			c.NewFeatures = append(c.NewFeatures, f)
		}
	}
	for _, f := range current.Features {
		if !slices.Contains(target.Features, f) {
			c.LostFeatures = append(c.LostFeatures, f)
		}
	}

	for key, to := range target.Limits {
		from, ok := current.Limits[key]
		if !ok {
			c.AddedLimits[key] = to
			continue
		}
		if from == to {
			continue
		}
		change := LimitChange{From: from, To: to}
		if LimitGreater(to, from) {
			c.IncreasedLimits[key] = change
		} else {
			c.DecreasedLimits[key] = change
		}
	}
	for key, from := range current.Limits {
		if _, ok := target.Limits[key]; !ok {
			c.RemovedLimits[key] = from
		}
	}

	return c
}

// LimitGreater reports whether ceiling a allows more than ceiling b,
// treating Unlimited as larger than any number.
func LimitGreater(a, b int64) bool {
	switch {
	case a == b:
		return false
	case a == Unlimited:
		return true
	case b == Unlimited:
		return false
	default:
		return a > b
	}
}
