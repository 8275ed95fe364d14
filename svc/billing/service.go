package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/usage"
)

// Service orchestrates checkout, payments, refunds, subscription changes and
// webhook processing over the gateway registry, the ledger and the usage
// gate. It holds no per-request state.
type Service struct {
	cfg      Config
	gateways *gateway.Resolver
	ledger   *subscription.Ledger
	gate     *usage.Gate
	dedupe   Deduper
	notifier Notifier
	metrics  *Metrics
	log      *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithDeduper sets the webhook event deduper.
func WithDeduper(d Deduper) Option {
	return func(s *Service) {
		if d != nil {
			s.dedupe = d
		}
	}
}

// WithNotifier sets the signal notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMetrics enables service metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the billing service. It panics on nil dependencies.
func NewService(cfg Config, gateways *gateway.Resolver, ledger *subscription.Ledger, gate *usage.Gate, opts ...Option) *Service {
	if gateways == nil || ledger == nil || gate == nil {
		panic("billing: gateways, ledger and gate are required")
	}
	s := &Service{
		cfg:      cfg,
		gateways: gateways,
		ledger:   ledger,
		gate:     gate,
		dedupe:   NewMemoryDeduper(cfg.WebhookDedupeTTL),
		notifier: NopNotifier{},
		log:      logger.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("billing"))
	return s
}

// Gate returns the usage gate.
func (s *Service) Gate() *usage.Gate { return s.gate }

// Gateways returns the gateway registry.
func (s *Service) Gateways() *gateway.Resolver { return s.gateways }

// Plans returns the publicly listed plans, cheapest first.
func (s *Service) Plans() []subscription.Plan {
	return s.ledger.Catalog().Public()
}

// Plan returns a catalog plan by id, including unlisted plans.
func (s *Service) Plan(id string) (subscription.Plan, error) {
	return s.ledger.Catalog().Get(id)
}

// CheckoutParams requests a hosted checkout session.
type CheckoutParams struct {
	UserID     string
	PlanID     string
	Gateway    string // default gateway when empty
	TrialDays  *int   // plan trial when nil
	Email      string
	SuccessURL string
	CancelURL  string
}

// CheckoutResult is a created checkout session.
type CheckoutResult struct {
	Success     bool      `json:"success"`
	SessionID   string    `json:"session_id"`
	CheckoutURL string    `json:"checkout_url"`
	Gateway     string    `json:"gateway"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
}

// CreateCheckoutSession opens a hosted checkout for a plan. No local state is
// written; the subscription starts when the completion webhook arrives.
func (s *Service) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutResult, error) {
	if p.UserID == "" {
		return nil, subscription.ErrMissingUserID
	}
	plan, err := s.ledger.Catalog().Get(p.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.Price.IsZero() {
		return nil, fmt.Errorf("%w: %s is free", ErrPlanNotAvailable, plan.ID)
	}
	g, err := s.gateways.Resolve(p.Gateway)
	if err != nil {
		return nil, err
	}

	trial := plan.TrialDays
	if p.TrialDays != nil {
		if *p.TrialDays < 0 {
			return nil, fmt.Errorf("%w: trial days must not be negative", ErrInvalidParams)
		}
		trial = *p.TrialDays
	}
	req := gateway.CheckoutRequest{
		Plan:       plan,
		UserID:     p.UserID,
		Email:      p.Email,
		TrialDays:  trial,
		SuccessURL: firstNonEmpty(p.SuccessURL, s.cfg.SuccessURL),
		CancelURL:  firstNonEmpty(p.CancelURL, s.cfg.CancelURL),
	}

	sess, err := g.CreateCheckoutSession(ctx, req)
	if err != nil {
		s.log.ErrorContext(ctx, "checkout session failed",
			logger.UserID(p.UserID),
			logger.Gateway(g.Name()),
			slog.String("plan_id", plan.ID),
			logger.Error(err),
		)
		return nil, err
	}
	return &CheckoutResult{
		Success:     true,
		SessionID:   sess.ID,
		CheckoutURL: sess.URL,
		Gateway:     g.Name(),
		ExpiresAt:   sess.ExpiresAt,
	}, nil
}

// PaymentParams is a direct card payment for a plan.
type PaymentParams struct {
	UserID    string
	PlanID    string
	Gateway   string
	SessionID string
	Card      gateway.Card
}

// PaymentResult is a completed direct payment.
type PaymentResult struct {
	Success        bool   `json:"success"`
	TransactionID  string `json:"transaction_id"`
	SubscriptionID string `json:"subscription_id"`
	PaymentID      string `json:"payment_id"`
}

// ProcessPayment charges a card and activates the plan. A declined charge
// returns a *gateway.DeclineError and records nothing.
func (s *Service) ProcessPayment(ctx context.Context, p PaymentParams) (*PaymentResult, error) {
	if p.UserID == "" {
		return nil, subscription.ErrMissingUserID
	}
	plan, err := s.ledger.Catalog().Get(p.PlanID)
	if err != nil {
		return nil, err
	}
	g, err := s.gateways.Resolve(p.Gateway)
	if err != nil {
		return nil, err
	}

	charge, err := g.ProcessPayment(ctx, gateway.ChargeRequest{
		Plan:      plan,
		UserID:    p.UserID,
		SessionID: p.SessionID,
		Card:      p.Card,
	})
	if err != nil {
		if d, ok := gateway.AsDecline(err); ok {
			s.metrics.payment(g.Name(), "declined")
			s.log.InfoContext(ctx, "payment declined",
				logger.UserID(p.UserID),
				logger.Gateway(g.Name()),
				slog.String("decline_code", d.Code),
			)
			return nil, err
		}
		s.metrics.payment(g.Name(), "error")
		s.log.ErrorContext(ctx, "payment failed",
			logger.UserID(p.UserID),
			logger.Gateway(g.Name()),
			logger.Error(err),
		)
		return nil, err
	}

	meta := map[string]string{}
	if p.SessionID != "" {
		meta[gateway.MetaSessionID] = p.SessionID
	}
	res, err := s.ledger.Activate(ctx, subscription.Activation{
		UserID:        p.UserID,
		PlanID:        plan.ID,
		Gateway:       g.Name(),
		TransactionID: charge.TransactionID,
		Amount:        &charge.Amount,
		Metadata:      meta,
	})
	if err != nil {
		s.metrics.payment(g.Name(), "error")
		s.log.ErrorContext(ctx, "charged payment could not be recorded",
			logger.UserID(p.UserID),
			logger.Gateway(g.Name()),
			logger.TransactionID(charge.TransactionID),
			logger.Error(err),
		)
		return nil, err
	}
	s.metrics.payment(g.Name(), "success")

	return &PaymentResult{
		Success:        true,
		TransactionID:  charge.TransactionID,
		SubscriptionID: res.Subscription.ID,
		PaymentID:      res.Payment.ID,
	}, nil
}

// RefundParams refunds a recorded payment. A nil Amount refunds it in full.
type RefundParams struct {
	TransactionID string
	Gateway       string // any gateway when empty
	UserID        string // when set, the payment must belong to this user
	Amount        *int64 // minor units
	Reason        string
}

// RefundResult is a completed refund.
type RefundResult struct {
	Success  bool               `json:"success"`
	RefundID string             `json:"refund_id"`
	Amount   subscription.Money `json:"amount"`
}

// Refund refunds a completed payment through the gateway that took it and
// marks the payment refunded. The payment is reserved before the provider
// call, so concurrent refunds of one payment reach the provider once.
func (s *Service) Refund(ctx context.Context, p RefundParams) (*RefundResult, error) {
	if p.TransactionID == "" {
		return nil, subscription.ErrMissingTransactionID
	}
	var (
		pay *subscription.Payment
		err error
	)
	if p.Gateway != "" {
		pay, err = s.ledger.PaymentByTransaction(ctx, p.Gateway, p.TransactionID)
	} else {
		pay, err = s.ledger.PaymentByTransactionID(ctx, p.TransactionID)
	}
	if err != nil {
		return nil, err
	}
	if p.UserID != "" && pay.UserID != p.UserID {
		return nil, subscription.ErrPaymentNotFound
	}
	g, err := s.gateways.Resolve(pay.Gateway)
	if err != nil {
		return nil, err
	}
	pay, amount, err := s.ledger.ReserveRefund(ctx, pay.ID, pay.UserID, p.Amount)
	if err != nil {
		return nil, err
	}

	req := gateway.RefundRequest{Payment: *pay, Reason: p.Reason}
	if amount != pay.Amount.Amount {
		req.Amount = &amount
	}
	r, err := g.Refund(ctx, req)
	if err != nil {
		s.metrics.refund(g.Name(), "error")
		s.log.ErrorContext(ctx, "refund failed",
			logger.UserID(pay.UserID),
			logger.Gateway(g.Name()),
			logger.TransactionID(pay.TransactionID),
			logger.Error(err),
		)
		if rerr := s.ledger.ReleaseRefund(context.WithoutCancel(ctx), pay.ID, pay.UserID); rerr != nil {
			s.log.ErrorContext(ctx, "refund reservation not released",
				logger.TransactionID(pay.TransactionID),
				logger.Error(rerr),
			)
		}
		return nil, err
	}

	if _, err := s.ledger.RecordRefund(ctx, pay.ID, pay.UserID, r.ID, amount); err != nil {
		s.metrics.refund(g.Name(), "error")
		s.log.ErrorContext(ctx, "provider refund could not be recorded",
			logger.TransactionID(pay.TransactionID),
			slog.String("refund_id", r.ID),
			logger.Error(err),
		)
		return nil, errors.Join(ErrRefundFailed, err)
	}
	s.metrics.refund(g.Name(), "success")

	return &RefundResult{
		Success:  true,
		RefundID: r.ID,
		Amount:   subscription.Money{Amount: amount, Currency: pay.Amount.Currency},
	}, nil
}

// ActiveSubscription returns the user's live subscription.
func (s *Service) ActiveSubscription(ctx context.Context, userID string) (*subscription.Subscription, error) {
	if userID == "" {
		return nil, subscription.ErrMissingUserID
	}
	return s.ledger.ActiveSubscription(ctx, userID)
}

// Subscriptions returns the user's subscription history, newest first.
func (s *Service) Subscriptions(ctx context.Context, userID string) ([]subscription.Subscription, error) {
	if userID == "" {
		return nil, subscription.ErrMissingUserID
	}
	return s.ledger.Subscriptions(ctx, userID)
}

// CancelSubscription cancels the user's live subscription locally.
func (s *Service) CancelSubscription(ctx context.Context, userID string) (*subscription.Subscription, error) {
	if userID == "" {
		return nil, subscription.ErrMissingUserID
	}
	return s.ledger.Cancel(ctx, userID)
}

// ResumeSubscription resumes the user's canceled subscription while its
// paid period has not ended.
func (s *Service) ResumeSubscription(ctx context.Context, userID string) (*subscription.Subscription, error) {
	if userID == "" {
		return nil, subscription.ErrMissingUserID
	}
	return s.ledger.Resume(ctx, userID)
}

// Usage returns the user's usage summary.
func (s *Service) Usage(ctx context.Context, userID string) (*usage.Summary, error) {
	return s.gate.Summary(ctx, userID)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
