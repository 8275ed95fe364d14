package pgstore

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

var _ subscription.Store = (*Store)(nil)

var subscriptionColumns = []string{
	"id", "user_id", "plan_id", "status", "gateway",
	"external_subscription_id", "external_customer_id",
	"starts_at", "ends_at", "trial_ends_at", "canceled_at", "provider_updated_at",
	"created_at", "updated_at",
}

var liveStatuses = []string{
	string(subscription.StatusActive),
	string(subscription.StatusTrialing),
	string(subscription.StatusPastDue),
}

// Store is the Postgres subscription.Store. WithUserLock serializes on a
// transaction-scoped advisory lock per user; the partial unique index on
// live rows backs the one-live-subscription invariant.
type Store struct {
	db DB
	options
}

// NewStore returns a Store on db.
func NewStore(db DB, opts ...Option) *Store {
	if db == nil {
		panic("pgstore: db is required")
	}
	return &Store{db: db, options: newOptions("billing_pgstore", opts)}
}

// WithUserLock runs fn in a transaction holding the user's advisory lock.
func (s *Store) WithUserLock(ctx context.Context, userID string, fn func(tx subscription.Tx) error) (err error) {
	ctx, span := s.start(ctx, "pgstore.WithUserLock", tableSubscriptions, attribute.String("billing.user_id", userID))
	defer func() {
		end(span, err, subscription.ErrDuplicateTransaction, subscription.ErrNoActiveSubscription,
			subscription.ErrInvalidTransition, subscription.ErrPaymentNotRefundable, subscription.ErrResumeNotAllowed)
	}()

	return pg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, "subscription", userID); err != nil {
			return errors.Join(subscription.ErrStorageFailure, err)
		}
		return fn(&storeTx{tx: tx})
	})
}

// SubscriptionByID returns a subscription by id.
func (s *Store) SubscriptionByID(ctx context.Context, id string) (sub *subscription.Subscription, err error) {
	ctx, span := s.start(ctx, "pgstore.SubscriptionByID", tableSubscriptions)
	defer func() { end(span, err, subscription.ErrSubscriptionNotFound) }()
	return subscriptionWhere(ctx, s.db, sq.Eq{"id": id}, "")
}

// SubscriptionByExternalID resolves a provider subscription id, falling back
// to the external id recorded in payment metadata.
func (s *Store) SubscriptionByExternalID(ctx context.Context, gateway, externalID string) (sub *subscription.Subscription, err error) {
	ctx, span := s.start(ctx, "pgstore.SubscriptionByExternalID", tableSubscriptions,
		attribute.String("billing.gateway", gateway))
	defer func() { end(span, err, subscription.ErrSubscriptionNotFound) }()

	sub, err = subscriptionWhere(ctx, s.db, sq.Eq{"gateway": gateway, "external_subscription_id": externalID}, "")
	if !errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return sub, err
	}

	query, args, err := psql.Select(prefixed("s", subscriptionColumns)...).
		From(tableSubscriptions + " s").
		Join(tablePayments + " p ON p.subscription_id = s.id").
		Where(sq.Eq{"p.gateway": gateway}).
		Where(sq.Expr("p.metadata ->> ? = ?", subscription.MetadataExternalSubscriptionID, externalID)).
		OrderBy("p.created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return scanSubscription(s.db.QueryRow(ctx, query, args...))
}

// ActiveSubscription returns the user's live subscription.
func (s *Store) ActiveSubscription(ctx context.Context, userID string) (sub *subscription.Subscription, err error) {
	ctx, span := s.start(ctx, "pgstore.ActiveSubscription", tableSubscriptions, attribute.String("billing.user_id", userID))
	defer func() { end(span, err, subscription.ErrNoActiveSubscription) }()

	subs, err := subscriptionsWhere(ctx, s.db, sq.Eq{"user_id": userID, "status": liveStatuses}, "")
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, subscription.ErrNoActiveSubscription
	}
	return &subs[0], nil
}

// SubscriptionsByUser returns the user's subscriptions, newest first.
func (s *Store) SubscriptionsByUser(ctx context.Context, userID string) (subs []subscription.Subscription, err error) {
	ctx, span := s.start(ctx, "pgstore.SubscriptionsByUser", tableSubscriptions, attribute.String("billing.user_id", userID))
	defer func() { end(span, err) }()
	return subscriptionsWhere(ctx, s.db, sq.Eq{"user_id": userID}, "")
}

// PaymentByTransaction returns the payment recorded for a gateway transaction.
func (s *Store) PaymentByTransaction(ctx context.Context, gateway, transactionID string) (p *subscription.Payment, err error) {
	ctx, span := s.start(ctx, "pgstore.PaymentByTransaction", tablePayments, attribute.String("billing.gateway", gateway))
	defer func() { end(span, err, subscription.ErrPaymentNotFound) }()
	return paymentWhere(ctx, s.db, sq.Eq{"gateway": gateway, "transaction_id": transactionID}, "")
}

// PaymentByTransactionID looks a transaction up across gateways.
func (s *Store) PaymentByTransactionID(ctx context.Context, transactionID string) (p *subscription.Payment, err error) {
	ctx, span := s.start(ctx, "pgstore.PaymentByTransactionID", tablePayments)
	defer func() { end(span, err, subscription.ErrPaymentNotFound) }()
	return paymentWhere(ctx, s.db, sq.Eq{"transaction_id": transactionID}, "")
}

// storeTx is the subscription.Tx inside WithUserLock. Reads lock the rows
// they return.
type storeTx struct {
	tx pgx.Tx
}

func (t *storeTx) LiveSubscriptions(ctx context.Context, userID string) ([]subscription.Subscription, error) {
	return subscriptionsWhere(ctx, t.tx, sq.Eq{"user_id": userID, "status": liveStatuses}, "FOR UPDATE")
}

func (t *storeTx) SubscriptionsByUser(ctx context.Context, userID string) ([]subscription.Subscription, error) {
	return subscriptionsWhere(ctx, t.tx, sq.Eq{"user_id": userID}, "FOR UPDATE")
}

func (t *storeTx) SubscriptionByID(ctx context.Context, id string) (*subscription.Subscription, error) {
	return subscriptionWhere(ctx, t.tx, sq.Eq{"id": id}, "FOR UPDATE")
}

func (t *storeTx) PaymentByTransaction(ctx context.Context, gateway, transactionID string) (*subscription.Payment, error) {
	return paymentWhere(ctx, t.tx, sq.Eq{"gateway": gateway, "transaction_id": transactionID}, "FOR UPDATE")
}

func (t *storeTx) PaymentByID(ctx context.Context, id string) (*subscription.Payment, error) {
	return paymentWhere(ctx, t.tx, sq.Eq{"id": id}, "FOR UPDATE")
}

func (t *storeTx) InsertSubscription(ctx context.Context, sub *subscription.Subscription) error {
	query, args, err := psql.Insert(tableSubscriptions).
		Columns(subscriptionColumns...).
		Values(subscriptionValues(sub)...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return errors.Join(subscription.ErrStorageFailure, err)
	}
	return nil
}

func (t *storeTx) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	query, args, err := psql.Update(tableSubscriptions).
		SetMap(map[string]any{
			"plan_id":                  sub.PlanID,
			"status":                   string(sub.Status),
			"external_subscription_id": sub.ExternalSubscriptionID,
			"external_customer_id":     sub.ExternalCustomerID,
			"ends_at":                  sub.EndsAt,
			"trial_ends_at":            sub.TrialEndsAt,
			"canceled_at":              sub.CanceledAt,
			"provider_updated_at":      sub.ProviderUpdatedAt,
			"updated_at":               sub.UpdatedAt,
		}).
		Where(sq.Eq{"id": sub.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return errors.Join(subscription.ErrStorageFailure, err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrSubscriptionNotFound
	}
	return nil
}

func (t *storeTx) InsertPayment(ctx context.Context, p *subscription.Payment) error {
	query, args, err := psql.Insert(tablePayments).
		Columns(paymentColumns...).
		Values(paymentValues(p)...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		if pg.IsDuplicateKeyError(err) && pg.ConstraintName(err) == "billing_payments_transaction_key" {
			return subscription.ErrDuplicateTransaction
		}
		return errors.Join(subscription.ErrStorageFailure, err)
	}
	return nil
}

func (t *storeTx) UpdatePayment(ctx context.Context, p *subscription.Payment) error {
	query, args, err := psql.Update(tablePayments).
		SetMap(map[string]any{
			"subscription_id": nullString(p.SubscriptionID),
			"status":          string(p.Status),
			"refunded_amount": p.RefundedAmount,
			"refund_id":       p.RefundID,
			"metadata":        metadata(p.Metadata),
			"updated_at":      p.UpdatedAt,
		}).
		Where(sq.Eq{"id": p.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return errors.Join(subscription.ErrStorageFailure, err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrPaymentNotFound
	}
	return nil
}

func subscriptionWhere(ctx context.Context, q querier, where sq.Sqlizer, suffix string) (*subscription.Subscription, error) {
	b := psql.Select(subscriptionColumns...).From(tableSubscriptions).Where(where).Limit(1)
	if suffix != "" {
		b = b.Suffix(suffix)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return scanSubscription(q.QueryRow(ctx, query, args...))
}

func subscriptionsWhere(ctx context.Context, q querier, where sq.Sqlizer, suffix string) ([]subscription.Subscription, error) {
	b := psql.Select(subscriptionColumns...).From(tableSubscriptions).Where(where).OrderBy("created_at DESC", "id DESC")
	if suffix != "" {
		b = b.Suffix(suffix)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Join(subscription.ErrStorageFailure, err)
	}
	defer rows.Close()

	var out []subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(subscription.ErrStorageFailure, err)
	}
	return out, nil
}

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var (
		sub    subscription.Subscription
		status string
	)
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &status, &sub.Gateway,
		&sub.ExternalSubscriptionID, &sub.ExternalCustomerID,
		&sub.StartsAt, &sub.EndsAt, &sub.TrialEndsAt, &sub.CanceledAt, &sub.ProviderUpdatedAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, errors.Join(subscription.ErrStorageFailure, err)
	}
	sub.Status = subscription.Status(status)
	return &sub, nil
}

func subscriptionValues(sub *subscription.Subscription) []any {
	return []any{
		sub.ID, sub.UserID, sub.PlanID, string(sub.Status), sub.Gateway,
		sub.ExternalSubscriptionID, sub.ExternalCustomerID,
		sub.StartsAt, sub.EndsAt, sub.TrialEndsAt, sub.CanceledAt, sub.ProviderUpdatedAt,
		sub.CreatedAt, sub.UpdatedAt,
	}
}

func prefixed(alias string, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c
	}
	return out
}
