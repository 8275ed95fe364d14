package pgstore

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

var paymentColumns = []string{
	"id", "user_id", "subscription_id", "amount", "currency", "gateway",
	"transaction_id", "status", "refunded_amount", "refund_id", "metadata",
	"created_at", "updated_at",
}

func paymentWhere(ctx context.Context, q querier, where sq.Sqlizer, suffix string) (*subscription.Payment, error) {
	b := psql.Select(paymentColumns...).From(tablePayments).Where(where).Limit(1)
	if suffix != "" {
		b = b.Suffix(suffix)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return scanPayment(q.QueryRow(ctx, query, args...))
}

func scanPayment(row pgx.Row) (*subscription.Payment, error) {
	var (
		p              subscription.Payment
		subscriptionID *string
		status         string
	)
	err := row.Scan(
		&p.ID, &p.UserID, &subscriptionID, &p.Amount.Amount, &p.Amount.Currency, &p.Gateway,
		&p.TransactionID, &status, &p.RefundedAmount, &p.RefundID, &p.Metadata,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrPaymentNotFound
	}
	if err != nil {
		return nil, errors.Join(subscription.ErrStorageFailure, err)
	}
	if subscriptionID != nil {
		p.SubscriptionID = *subscriptionID
	}
	p.Status = subscription.PaymentStatus(status)
	return &p, nil
}

func paymentValues(p *subscription.Payment) []any {
	return []any{
		p.ID, p.UserID, nullString(p.SubscriptionID), p.Amount.Amount, p.Amount.Currency, p.Gateway,
		p.TransactionID, string(p.Status), p.RefundedAmount, p.RefundID, metadata(p.Metadata),
		p.CreatedAt, p.UpdatedAt,
	}
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func metadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
