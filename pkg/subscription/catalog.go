package subscription

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Source loads plan definitions.
type Source interface {
	Load(ctx context.Context) ([]Plan, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]Plan, error)

// Load calls f(ctx).
func (f SourceFunc) Load(ctx context.Context) ([]Plan, error) { return f(ctx) }

// Catalog is the read-only set of plans, validated once at startup.
type Catalog struct {
	plans   map[string]Plan
	ordered []Plan
}

// NewCatalog loads and validates plans from src.
func NewCatalog(ctx context.Context, src Source) (*Catalog, error) {
	if src == nil {
		return nil, errors.Join(ErrFailedToLoadPlans, errors.New("nil plan source"))
	}
	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	return newCatalog(plans)
}

// MustNewCatalog is like NewCatalog but panics on error.
func MustNewCatalog(ctx context.Context, src Source) *Catalog {
	c, err := NewCatalog(ctx, src)
	if err != nil {
		panic(err)
	}
	return c
}

func newCatalog(plans []Plan) (*Catalog, error) {
	c := &Catalog{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		if err := validatePlan(p); err != nil {
			return nil, err
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate plan id %q", ErrInvalidPlanConfiguration, p.ID)
		}
		p = p.Clone()
		p.Price.Currency = strings.ToUpper(p.Price.Currency)
		c.plans[p.ID] = p
		c.ordered = append(c.ordered, p)
	}
	slices.SortStableFunc(c.ordered, func(a, b Plan) int {
		if n := cmp.Compare(a.Price.Amount, b.Price.Amount); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return c, nil
}

func validatePlan(p Plan) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: plan id is required", ErrInvalidPlanConfiguration)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: plan %q has no name", ErrInvalidPlanConfiguration, p.ID)
	}
	if !p.Period.Valid() {
		return fmt.Errorf("%w: plan %q has invalid period %q", ErrInvalidPlanConfiguration, p.ID, p.Period)
	}
	if p.Price.Amount < 0 {
		return fmt.Errorf("%w: plan %q has a negative price", ErrInvalidPlanConfiguration, p.ID)
	}
	if len(p.Price.Currency) != 3 {
		return fmt.Errorf("%w: plan %q has invalid currency %q", ErrInvalidPlanConfiguration, p.ID, p.Price.Currency)
	}
	if p.TrialDays < 0 {
		return fmt.Errorf("%w: plan %q has negative trial days", ErrInvalidPlanConfiguration, p.ID)
	}
	for key, v := range p.Limits {
		if v < Unlimited {
			return fmt.Errorf("%w: plan %q limit %q is below -1", ErrInvalidPlanConfiguration, p.ID, key)
		}
	}
	return nil
}

// Get returns the plan with the given id.
func (c *Catalog) Get(id string) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return p.Clone(), nil
}

// List returns all plans ordered by price.
func (c *Catalog) List() []Plan {
	out := make([]Plan, len(c.ordered))
	for i, p := range c.ordered {
		out[i] = p.Clone()
	}
	return out
}

// Public returns the plans offered for sale, ordered by price.
func (c *Catalog) Public() []Plan {
	var out []Plan
	for _, p := range c.ordered {
		if p.Public {
			out = append(out, p.Clone())
		}
	}
	return out
}

// CanUpgrade reports whether some plan other than currentID offers a higher
// ceiling than the current plan, as read by limit. A plan without the limit
// does not count.
func (c *Catalog) CanUpgrade(currentID string, limit func(Plan) (int64, bool)) bool {
	cur, ok := c.plans[currentID]
	if !ok {
		return false
	}
	curLimit, curOK := limit(cur)
	if curOK && curLimit == Unlimited {
		return false
	}
	for _, p := range c.ordered {
		if p.ID == currentID {
			continue
		}
		v, ok := limit(p)
		if !ok {
			continue
		}
		if !curOK || LimitGreater(v, curLimit) {
			return true
		}
	}
	return false
}
