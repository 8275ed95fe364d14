package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/usage"
)

var _ usage.Store = (*UsageStore)(nil)

// UsageStore is the Postgres usage.Store. Rows are created on first use and
// updated under SELECT ... FOR UPDATE so concurrent consumers of the same
// user serialize.
type UsageStore struct {
	db DB
	options
}

// NewUsageStore returns a UsageStore on db.
func NewUsageStore(db DB, opts ...Option) *UsageStore {
	if db == nil {
		panic("pgstore: db is required")
	}
	return &UsageStore{db: db, options: newOptions("billing_usage_store", opts)}
}

// Update implements usage.Store.
func (s *UsageStore) Update(ctx context.Context, userID string, fn func(u *usage.UserUsage) error) (err error) {
	ctx, span := s.start(ctx, "pgstore.UsageUpdate", tableUsage, attribute.String("billing.user_id", userID))
	defer func() { end(span, err, usage.ErrLimitReached) }()

	return pg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			"INSERT INTO "+tableUsage+" (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", userID); err != nil {
			return errors.Join(usage.ErrUsageUnavailable, err)
		}

		query, args, err := psql.Select("user_id", "period", "total", "last_reset_at", "updated_at").
			From(tableUsage).
			Where(sq.Eq{"user_id": userID}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}

		u := usage.NewUserUsage(userID)
		var lastReset *time.Time
		if err := tx.QueryRow(ctx, query, args...).Scan(&u.UserID, &u.Period, &u.Total, &lastReset, &u.UpdatedAt); err != nil {
			return errors.Join(usage.ErrUsageUnavailable, err)
		}
		if lastReset != nil {
			u.LastResetAt = *lastReset
		}
		u = u.Clone()

		if err := fn(u); err != nil {
			return err
		}

		var reset *time.Time
		if !u.LastResetAt.IsZero() {
			reset = &u.LastResetAt
		}
		query, args, err = psql.Update(tableUsage).
			SetMap(map[string]any{
				"period":        u.Period,
				"total":         u.Total,
				"last_reset_at": reset,
				"updated_at":    u.UpdatedAt,
			}).
			Where(sq.Eq{"user_id": userID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return errors.Join(usage.ErrUsageUnavailable, err)
		}
		return nil
	})
}
