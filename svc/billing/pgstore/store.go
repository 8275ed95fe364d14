package pgstore

import (
	"context"
	"errors"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/pg"
)

const (
	tablePlans         = "billing_plans"
	tableSubscriptions = "billing_subscriptions"
	tablePayments      = "billing_payments"
	tableUsage         = "billing_usage"
)

// DB is the subset of *pgxpool.Pool the stores use.
type DB interface {
	pg.TxBeginner
	querier
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type options struct {
	log    *slog.Logger
	tracer trace.Tracer
}

// Option configures the Postgres stores.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

func newOptions(component string, opts []Option) options {
	o := options{
		log:    logger.Nop(),
		tracer: otel.Tracer("github.com/dmitrymomot/billingkit/svc/billing/pgstore"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.With(logger.Component(component))
	return o
}

func (o options) start(ctx context.Context, op, table string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", table),
	)
	return o.tracer.Start(ctx, op, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindClient))
}

// end closes span, recording err unless it is one of the expected domain
// errors.
func end(span trace.Span, err error, expected ...error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	for _, e := range expected {
		if errors.Is(err, e) {
			span.SetAttributes(attribute.String("db.result", e.Error()))
			return
		}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// lockUser takes a transaction-scoped advisory lock keyed by user id.
func lockUser(ctx context.Context, tx pgx.Tx, namespace, userID string) error {
	_, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", namespace+":"+userID)
	return err
}
