package pgstore

import (
	"context"
	"errors"
	"fmt"
	"slices"

	sq "github.com/Masterminds/squirrel"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

var _ subscription.Source = (*PlanSource)(nil)

var planColumns = []string{
	"id", "name", "description", "price_amount", "price_currency", "period",
	"limits", "features", "trial_days", "public", "price_ids",
}

// PlanSource loads the plan catalog from the billing_plans table.
// Archived plans are skipped.
type PlanSource struct {
	db DB
	options
}

// NewPlanSource returns a PlanSource on db.
func NewPlanSource(db DB, opts ...Option) *PlanSource {
	if db == nil {
		panic("pgstore: db is required")
	}
	return &PlanSource{db: db, options: newOptions("billing_plan_source", opts)}
}

// Load implements subscription.Source.
func (s *PlanSource) Load(ctx context.Context) (plans []subscription.Plan, err error) {
	ctx, span := s.start(ctx, "pgstore.LoadPlans", tablePlans)
	defer func() { end(span, err) }()

	query, args, err := psql.Select(planColumns...).
		From(tablePlans).
		Where(sq.Eq{"archived": false}).
		OrderBy("sort_order", "price_amount", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Join(subscription.ErrFailedToLoadPlans, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p      subscription.Plan
			period string
		)
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Description, &p.Price.Amount, &p.Price.Currency, &period,
			&p.Limits, &p.Features, &p.TrialDays, &p.Public, &p.PriceIDs,
		); err != nil {
			return nil, errors.Join(subscription.ErrFailedToLoadPlans, err)
		}
		p.Period = subscription.Period(period)
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(subscription.ErrFailedToLoadPlans, err)
	}

	s.log.DebugContext(ctx, "plans loaded", "count", len(plans))
	return plans, nil
}

// Upsert writes plans, replacing existing rows with the same id. Used to seed
// the table from a YAML catalog.
func (s *PlanSource) Upsert(ctx context.Context, plans ...subscription.Plan) (err error) {
	ctx, span := s.start(ctx, "pgstore.UpsertPlans", tablePlans)
	defer func() { end(span, err) }()

	for i, p := range plans {
		query, args, err := psql.Insert(tablePlans).
			Columns(append(slices.Clone(planColumns), "sort_order")...).
			Values(
				p.ID, p.Name, p.Description, p.Price.Amount, p.Price.Currency, string(p.Period),
				nonNilLimits(p.Limits), nonNilFeatures(p.Features), p.TrialDays, p.Public, metadata(p.PriceIDs), i,
			).
			Suffix(`ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name, description = EXCLUDED.description,
				price_amount = EXCLUDED.price_amount, price_currency = EXCLUDED.price_currency,
				period = EXCLUDED.period, limits = EXCLUDED.limits, features = EXCLUDED.features,
				trial_days = EXCLUDED.trial_days, public = EXCLUDED.public, price_ids = EXCLUDED.price_ids,
				sort_order = EXCLUDED.sort_order, archived = FALSE, updated_at = now()`).
			ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}
		if _, err := s.db.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert plan %q: %w", p.ID, err)
		}
	}
	return nil
}

func nonNilLimits(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}

func nonNilFeatures(f []string) []string {
	if f == nil {
		return []string{}
	}
	return f
}
