package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Ledger owns subscription and payment state transitions.
type Ledger struct {
	store   Store
	catalog *Catalog
	policy  PastDuePolicy
	now     func() time.Time
	newID   func() string
	log     *slog.Logger
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithClock overrides the ledger clock.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithPastDuePolicy sets how provider past_due is reflected locally.
func WithPastDuePolicy(p PastDuePolicy) LedgerOption {
	return func(l *Ledger) {
		if p == GraceKeepActive || p == StrictPastDue {
			l.policy = p
		}
	}
}

// WithIDGenerator overrides the id generator for new rows.
func WithIDGenerator(fn func() string) LedgerOption {
	return func(l *Ledger) {
		if fn != nil {
			l.newID = fn
		}
	}
}

// WithLogger sets the ledger logger.
func WithLogger(log *slog.Logger) LedgerOption {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// NewLedger creates a Ledger. It panics if store or catalog is nil.
func NewLedger(store Store, catalog *Catalog, opts ...LedgerOption) *Ledger {
	if store == nil {
		panic("subscription: store is required")
	}
	if catalog == nil {
		panic("subscription: catalog is required")
	}
	l := &Ledger{
		store:   store,
		catalog: catalog,
		policy:  DefaultPastDuePolicy,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With(logger.Component("subscription_ledger"))
	return l
}

// Catalog returns the plan catalog the ledger validates against.
func (l *Ledger) Catalog() *Catalog { return l.catalog }

// Activation is a successful checkout or direct payment.
type Activation struct {
	UserID                 string
	PlanID                 string
	Gateway                string
	TransactionID          string
	Amount                 *Money // plan price when nil
	TrialDays              int
	ExternalSubscriptionID string
	ExternalCustomerID     string
	Metadata               map[string]string
}

// ActivationResult is the outcome of Activate. Replayed is set when the
// transaction was already recorded; Subscription and Payment are then the
// rows created by the first delivery.
type ActivationResult struct {
	Subscription *Subscription
	Payment      *Payment
	Canceled     []Subscription
	Replayed     bool
}

// Activate records a completed payment and starts a subscription for it. In
// one per-user transaction every live subscription of the user is canceled,
// the new subscription is inserted and the completed payment is recorded.
// A repeated (gateway, transaction id) returns the original pair.
func (l *Ledger) Activate(ctx context.Context, a Activation) (*ActivationResult, error) {
	if a.UserID == "" {
		return nil, ErrMissingUserID
	}
	if a.TransactionID == "" {
		return nil, ErrMissingTransactionID
	}
	plan, err := l.catalog.Get(a.PlanID)
	if err != nil {
		return nil, err
	}

	amount := plan.Price
	if a.Amount != nil {
		amount = *a.Amount
	}

	res := &ActivationResult{}
	err = l.store.WithUserLock(ctx, a.UserID, func(tx Tx) error {
		existing, err := tx.PaymentByTransaction(ctx, a.Gateway, a.TransactionID)
		switch {
		case err == nil:
			res.Payment = existing
			res.Replayed = true
			if existing.SubscriptionID != "" {
				sub, err := tx.SubscriptionByID(ctx, existing.SubscriptionID)
				if err != nil {
					return err
				}
				res.Subscription = sub
			}
			return nil
		case !errors.Is(err, ErrPaymentNotFound):
			return err
		}

		now := l.now()
		live, err := tx.LiveSubscriptions(ctx, a.UserID)
		if err != nil {
			return err
		}
		for i := range live {
			prior := &live[i]
			next, err := NextStatus(ctx, prior, TriggerSuperseded, l.policy, now)
			if err != nil {
				return err
			}
			prior.Status = next
			prior.CanceledAt = &now
			prior.UpdatedAt = now
			if err := tx.UpdateSubscription(ctx, prior); err != nil {
				return err
			}
			res.Canceled = append(res.Canceled, *prior)
		}

		sub := &Subscription{
			ID:                     l.newID(),
			UserID:                 a.UserID,
			PlanID:                 plan.ID,
			Status:                 StatusActive,
			Gateway:                a.Gateway,
			ExternalSubscriptionID: a.ExternalSubscriptionID,
			ExternalCustomerID:     a.ExternalCustomerID,
			StartsAt:               now,
			EndsAt:                 plan.Period.EndsAt(now),
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if a.TrialDays > 0 && plan.Period != PeriodLifetime {
			trialEnd := TrialEndsAt(now, a.TrialDays)
			sub.Status = StatusTrialing
			sub.TrialEndsAt = &trialEnd
		}
		if err := tx.InsertSubscription(ctx, sub); err != nil {
			return err
		}

		meta := maps.Clone(a.Metadata)
		if a.ExternalSubscriptionID != "" {
			if meta == nil {
				meta = make(map[string]string)
			}
			meta[MetadataExternalSubscriptionID] = a.ExternalSubscriptionID
		}
		pay := &Payment{
			ID:             l.newID(),
			UserID:         a.UserID,
			SubscriptionID: sub.ID,
			Amount:         amount,
			Gateway:        a.Gateway,
			TransactionID:  a.TransactionID,
			Status:         PaymentCompleted,
			Metadata:       meta,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertPayment(ctx, pay); err != nil {
			return err
		}

		res.Subscription = sub
		res.Payment = pay
		return nil
	})

	if errors.Is(err, ErrDuplicateTransaction) {
		// Lost a race with a concurrent delivery for the same transaction.
		return l.replay(ctx, a.Gateway, a.TransactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("activate subscription: %w", err)
	}

	if res.Replayed {
		l.log.DebugContext(ctx, "activation replayed",
			logger.UserID(a.UserID), logger.Gateway(a.Gateway), logger.TransactionID(a.TransactionID))
	} else {
		l.log.InfoContext(ctx, "subscription activated",
			logger.UserID(a.UserID),
			logger.SubscriptionID(res.Subscription.ID),
			logger.Gateway(a.Gateway),
			logger.TransactionID(a.TransactionID),
			slog.String("plan_id", plan.ID),
			slog.Int("canceled_prior", len(res.Canceled)))
	}
	return res, nil
}

func (l *Ledger) replay(ctx context.Context, gateway, transactionID string) (*ActivationResult, error) {
	pay, err := l.store.PaymentByTransaction(ctx, gateway, transactionID)
	if err != nil {
		return nil, fmt.Errorf("load replayed payment: %w", err)
	}
	res := &ActivationResult{Payment: pay, Replayed: true}
	if pay.SubscriptionID != "" {
		if res.Subscription, err = l.store.SubscriptionByID(ctx, pay.SubscriptionID); err != nil {
			return nil, fmt.Errorf("load replayed subscription: %w", err)
		}
	}
	return res, nil
}

// ProviderUpdate is a provider-reported change of a subscription.
type ProviderUpdate struct {
	Gateway                string
	ExternalSubscriptionID string
	Status                 ProviderStatus
	PeriodEnd              *time.Time
	CanceledAt             *time.Time
	OccurredAt             time.Time // event time; zero means now
}

// Reasons an update was not applied.
const (
	SkipTerminal          = "terminal"
	SkipStale             = "stale"
	SkipUnsupportedStatus = "unsupported_status"
)

// UpdateResult reports whether a provider update changed the subscription.
type UpdateResult struct {
	Subscription *Subscription
	Applied      bool
	Reason       string
}

// ApplyProviderUpdate applies a provider status change to the matching local
// subscription. Updates to canceled or expired rows, updates older than the
// last applied provider event and unknown statuses are skipped.
// ErrSubscriptionNotMatched is returned when no local row matches.
func (l *Ledger) ApplyProviderUpdate(ctx context.Context, u ProviderUpdate) (*UpdateResult, error) {
	trigger, ok := triggerFor(u.Status)
	return l.applyProvider(ctx, u, trigger, ok)
}

// ApplyProviderDeletion cancels the subscription the provider deleted.
func (l *Ledger) ApplyProviderDeletion(ctx context.Context, gateway, externalID string, occurredAt time.Time) (*UpdateResult, error) {
	return l.applyProvider(ctx, ProviderUpdate{
		Gateway:                gateway,
		ExternalSubscriptionID: externalID,
		Status:                 ProviderCanceled,
		OccurredAt:             occurredAt,
	}, TriggerProviderDeleted, true)
}

func (l *Ledger) applyProvider(ctx context.Context, u ProviderUpdate, trigger Trigger, supported bool) (*UpdateResult, error) {
	if u.ExternalSubscriptionID == "" {
		return nil, ErrSubscriptionNotMatched
	}
	found, err := l.store.SubscriptionByExternalID(ctx, u.Gateway, u.ExternalSubscriptionID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrSubscriptionNotMatched, u.Gateway, u.ExternalSubscriptionID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve subscription: %w", err)
	}

	res := &UpdateResult{}
	err = l.store.WithUserLock(ctx, found.UserID, func(tx Tx) error {
		sub, err := tx.SubscriptionByID(ctx, found.ID)
		if err != nil {
			return err
		}
		res.Subscription = sub

		now := l.now()
		occurred := u.OccurredAt
		if occurred.IsZero() {
			occurred = now
		}
		switch {
		case sub.Status.Terminal():
			res.Reason = SkipTerminal
			return nil
		case sub.ProviderUpdatedAt != nil && occurred.Before(*sub.ProviderUpdatedAt):
			res.Reason = SkipStale
			return nil
		case !supported:
			res.Reason = SkipUnsupportedStatus
			return nil
		}

		next, err := NextStatus(ctx, sub, trigger, l.policy, now)
		if err != nil {
			return err
		}
		sub.Status = next
		if u.PeriodEnd != nil && !u.PeriodEnd.IsZero() && !sub.IsLifetime() {
			sub.EndsAt = u.PeriodEnd.UTC()
		}
		switch {
		case u.CanceledAt != nil:
			at := u.CanceledAt.UTC()
			sub.CanceledAt = &at
		case next == StatusCanceled:
			sub.CanceledAt = &now
		}
		sub.ProviderUpdatedAt = &occurred
		sub.UpdatedAt = now
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		res.Applied = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply provider update: %w", err)
	}

	l.log.InfoContext(ctx, "provider update processed",
		logger.SubscriptionID(res.Subscription.ID),
		logger.Gateway(u.Gateway),
		logger.ExternalID(u.ExternalSubscriptionID),
		slog.String("trigger", string(trigger)),
		slog.Bool("applied", res.Applied),
		slog.String("reason", res.Reason))
	return res, nil
}

// Cancel cancels the user's live subscription.
func (l *Ledger) Cancel(ctx context.Context, userID string) (*Subscription, error) {
	var out *Subscription
	err := l.store.WithUserLock(ctx, userID, func(tx Tx) error {
		live, err := tx.LiveSubscriptions(ctx, userID)
		if err != nil {
			return err
		}
		if len(live) == 0 {
			return ErrNoActiveSubscription
		}
		now := l.now()
		for i := range live {
			sub := &live[i]
			next, err := NextStatus(ctx, sub, TriggerUserCancel, l.policy, now)
			if err != nil {
				return err
			}
			sub.Status = next
			sub.CanceledAt = &now
			sub.UpdatedAt = now
			if err := tx.UpdateSubscription(ctx, sub); err != nil {
				return err
			}
		}
		out = &live[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.InfoContext(ctx, "subscription canceled by user",
		logger.UserID(userID), logger.SubscriptionID(out.ID))
	return out, nil
}

// Resume reactivates the user's most recent canceled subscription while its
// paid period has not ended and no other subscription is live.
func (l *Ledger) Resume(ctx context.Context, userID string) (*Subscription, error) {
	var out *Subscription
	err := l.store.WithUserLock(ctx, userID, func(tx Tx) error {
		all, err := tx.SubscriptionsByUser(ctx, userID)
		if err != nil {
			return err
		}
		var target *Subscription
		for i := range all {
			if all[i].Status.Live() {
				return fmt.Errorf("%w: user already has a live subscription", ErrResumeNotAllowed)
			}
			if target == nil && all[i].Status == StatusCanceled {
				target = &all[i]
			}
		}
		if target == nil {
			return fmt.Errorf("%w: no canceled subscription", ErrResumeNotAllowed)
		}

		now := l.now()
		next, err := NextStatus(ctx, target, TriggerUserResume, l.policy, now)
		if err != nil {
			return errors.Join(ErrResumeNotAllowed, err)
		}
		target.Status = next
		target.CanceledAt = nil
		target.UpdatedAt = now
		if err := tx.UpdateSubscription(ctx, target); err != nil {
			return err
		}
		out = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.InfoContext(ctx, "subscription resumed",
		logger.UserID(userID), logger.SubscriptionID(out.ID))
	return out, nil
}

// Expire moves a live subscription to expired.
func (l *Ledger) Expire(ctx context.Context, subscriptionID string) (*Subscription, error) {
	found, err := l.store.SubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	var out *Subscription
	err = l.store.WithUserLock(ctx, found.UserID, func(tx Tx) error {
		sub, err := tx.SubscriptionByID(ctx, subscriptionID)
		if err != nil {
			return err
		}
		now := l.now()
		next, err := NextStatus(ctx, sub, TriggerExpire, l.policy, now)
		if err != nil {
			return err
		}
		sub.Status = next
		sub.UpdatedAt = now
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveSubscription returns the user's live subscription or
// ErrNoActiveSubscription.
func (l *Ledger) ActiveSubscription(ctx context.Context, userID string) (*Subscription, error) {
	return l.store.ActiveSubscription(ctx, userID)
}

// SubscriptionByExternalID resolves a provider subscription id to the local
// subscription.
func (l *Ledger) SubscriptionByExternalID(ctx context.Context, gateway, externalID string) (*Subscription, error) {
	return l.store.SubscriptionByExternalID(ctx, gateway, externalID)
}

// Subscriptions returns the user's subscription history, newest first.
func (l *Ledger) Subscriptions(ctx context.Context, userID string) ([]Subscription, error) {
	return l.store.SubscriptionsByUser(ctx, userID)
}

// PaymentByTransaction returns the payment recorded for a gateway transaction.
func (l *Ledger) PaymentByTransaction(ctx context.Context, gateway, transactionID string) (*Payment, error) {
	return l.store.PaymentByTransaction(ctx, gateway, transactionID)
}

// PaymentByTransactionID returns the payment for a transaction id on any gateway.
func (l *Ledger) PaymentByTransactionID(ctx context.Context, transactionID string) (*Payment, error) {
	return l.store.PaymentByTransactionID(ctx, transactionID)
}

// RefundAmount validates a refund request against the payment and returns the
// amount to refund. A nil request means the full payment amount.
func RefundAmount(p *Payment, requested *int64) (int64, error) {
	if !p.Refundable() {
		return 0, fmt.Errorf("%w: payment status is %s", ErrPaymentNotRefundable, p.Status)
	}
	if requested == nil {
		return p.Amount.Amount, nil
	}
	if *requested <= 0 {
		return 0, fmt.Errorf("%w: refund amount must be positive", ErrInvalidAmount)
	}
	if *requested > p.Amount.Amount {
		return 0, ErrRefundExceedsPayment
	}
	return *requested, nil
}

// ReserveRefund validates a refund of the payment under the user lock and
// moves it to PaymentRefunding. A second reservation of the same payment
// fails with ErrPaymentNotRefundable until ReleaseRefund or RecordRefund.
func (l *Ledger) ReserveRefund(ctx context.Context, paymentID, userID string, requested *int64) (*Payment, int64, error) {
	var (
		out    *Payment
		amount int64
	)
	err := l.store.WithUserLock(ctx, userID, func(tx Tx) error {
		p, err := tx.PaymentByID(ctx, paymentID)
		if err != nil {
			return err
		}
		if amount, err = RefundAmount(p, requested); err != nil {
			return err
		}
		p.Status = PaymentRefunding
		p.UpdatedAt = l.now()
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, amount, nil
}

// ReleaseRefund returns a reserved payment to completed after the provider
// refused the refund. Payments in any other state are left alone.
func (l *Ledger) ReleaseRefund(ctx context.Context, paymentID, userID string) error {
	return l.store.WithUserLock(ctx, userID, func(tx Tx) error {
		p, err := tx.PaymentByID(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != PaymentRefunding {
			return nil
		}
		p.Status = PaymentCompleted
		p.UpdatedAt = l.now()
		return tx.UpdatePayment(ctx, p)
	})
}

// RecordRefund marks the payment refunded. A reserved payment is accepted,
// and recording the refund that already settled the payment is a no-op.
func (l *Ledger) RecordRefund(ctx context.Context, paymentID, userID, refundID string, amount int64) (*Payment, error) {
	var out *Payment
	err := l.store.WithUserLock(ctx, userID, func(tx Tx) error {
		p, err := tx.PaymentByID(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == PaymentRefunded && refundID != "" && p.RefundID == refundID {
			out = p
			return nil
		}
		if p.Status == PaymentRefunding {
			p.Status = PaymentCompleted
		}
		if _, err := RefundAmount(p, &amount); err != nil {
			return err
		}
		p.Status = PaymentRefunded
		p.RefundID = refundID
		p.RefundedAmount = amount
		p.UpdatedAt = l.now()
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.InfoContext(ctx, "payment refunded",
		logger.UserID(userID), logger.TransactionID(out.TransactionID), slog.Int64("amount", amount))
	return out, nil
}

// MarkRefundedByProvider records a refund reported by the provider. A
// payment that is already refunded is returned unchanged. An amount of zero
// means the full payment.
func (l *Ledger) MarkRefundedByProvider(ctx context.Context, gateway, transactionID, refundID string, amount int64) (*Payment, error) {
	found, err := l.store.PaymentByTransaction(ctx, gateway, transactionID)
	if err != nil {
		return nil, err
	}
	if found.Status == PaymentRefunded {
		return found, nil
	}
	if amount <= 0 || amount > found.Amount.Amount {
		amount = found.Amount.Amount
	}
	return l.RecordRefund(ctx, found.ID, found.UserID, refundID, amount)
}
