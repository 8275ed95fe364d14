package gateway

import (
	"context"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// Gateway is a payment provider adapter.
type Gateway interface {
	// Name is the lowercase registry key, e.g. "stripe".
	Name() string
	// IsConfigured reports whether the adapter has the credentials it needs
	// to create sessions and verify webhooks.
	IsConfigured() bool
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	// ProcessPayment charges a card directly. Hosted-only adapters return
	// ErrDirectPaymentUnsupported.
	ProcessPayment(ctx context.Context, req ChargeRequest) (*Charge, error)
	// ParseWebhook verifies the signature and decodes the payload into a
	// normalized Event. Verification happens before any decoding.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)
	Refund(ctx context.Context, req RefundRequest) (*Refund, error)
}

// CheckoutRequest asks for a hosted checkout session. The billing mode follows
// the plan period: lifetime plans are one-time payments, the others recur.
type CheckoutRequest struct {
	Plan       subscription.Plan
	UserID     string
	Email      string
	TrialDays  int // ignored for lifetime plans
	SuccessURL string
	CancelURL  string
}

// Recurring reports whether the session creates a provider subscription.
func (r CheckoutRequest) Recurring() bool {
	return r.Plan.Period.Recurring()
}

// EffectiveTrialDays returns the trial length that applies to the plan.
func (r CheckoutRequest) EffectiveTrialDays() int {
	if !r.Recurring() || r.TrialDays < 0 {
		return 0
	}
	return r.TrialDays
}

// CheckoutSession is a created hosted checkout session.
type CheckoutSession struct {
	ID        string
	URL       string
	Gateway   string
	ExpiresAt time.Time
}

// Card holds raw card input for direct charges.
type Card struct {
	Number string
	Expiry string // MM/YY or MM/YYYY
	CVC    string
}

// ChargeRequest is a direct card charge for a plan.
type ChargeRequest struct {
	Plan      subscription.Plan
	UserID    string
	SessionID string
	Card      Card
}

// Charge is a successful direct charge.
type Charge struct {
	TransactionID string
	Amount        subscription.Money
	Gateway       string
}

// RefundRequest refunds a recorded payment. A nil Amount refunds the full
// payment amount.
type RefundRequest struct {
	Payment subscription.Payment
	Amount  *int64
	Reason  string
}

// FullAmount returns the amount to refund in minor units.
func (r RefundRequest) FullAmount() int64 {
	if r.Amount != nil {
		return *r.Amount
	}
	return r.Payment.Amount.Amount
}

// Refund is a successful provider refund.
type Refund struct {
	ID     string
	Amount subscription.Money
	Status string
}

// EventType is a normalized webhook event type.
type EventType string

const (
	EventCheckoutCompleted    EventType = "checkout.completed"
	EventSubscriptionUpdated  EventType = "subscription.updated"
	EventSubscriptionDeleted  EventType = "subscription.deleted"
	EventInvoicePaymentFailed EventType = "invoice.payment_failed"
	EventChargeRefunded       EventType = "charge.refunded"
	EventIgnored              EventType = "ignored"
)

// Event is a verified provider webhook normalized across gateways.
type Event struct {
	ID                     string                      `json:"id"`
	Type                   EventType                   `json:"type"`
	ProviderType           string                      `json:"provider_type,omitempty"`
	OccurredAt             time.Time                   `json:"occurred_at"`
	UserID                 string                      `json:"user_id,omitempty"`
	PlanID                 string                      `json:"plan_id,omitempty"`
	TransactionID          string                      `json:"transaction_id,omitempty"`
	SessionID              string                      `json:"session_id,omitempty"`
	RefundID               string                      `json:"refund_id,omitempty"`
	ExternalSubscriptionID string                      `json:"external_subscription_id,omitempty"`
	ExternalCustomerID     string                      `json:"external_customer_id,omitempty"`
	ProviderStatus         subscription.ProviderStatus `json:"provider_status,omitempty"`
	PeriodEnd              *time.Time                  `json:"period_end,omitempty"`
	CanceledAt             *time.Time                  `json:"canceled_at,omitempty"`
	TrialDays              int                         `json:"trial_days,omitempty"`
	Amount                 *subscription.Money         `json:"amount,omitempty"`
	Metadata               map[string]string           `json:"metadata,omitempty"`
}

// Metadata keys written to provider objects and read back from webhooks.
const (
	MetaUserID        = "user_id"
	MetaPlanID        = "plan_id"
	MetaTrialDays     = "trial_days"
	MetaSessionID     = "session_id"
	MetaPaymentIntent = "payment_intent"
	MetaCustomerID    = "customer_id"
	MetaInvoiceID     = "invoice_id"
)

// NormalizeStatus maps a provider subscription status string to a
// ProviderStatus.
func NormalizeStatus(s string) subscription.ProviderStatus {
	switch s {
	case "active":
		return subscription.ProviderActive
	case "trialing":
		return subscription.ProviderTrialing
	case "past_due":
		return subscription.ProviderPastDue
	case "canceled", "cancelled", "incomplete_expired":
		return subscription.ProviderCanceled
	case "unpaid":
		return subscription.ProviderUnpaid
	}
	return subscription.ProviderUnknown
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// SignatureHeader returns the HTTP header that carries webhook signatures
// for the named gateway, or "" for unknown names.
func SignatureHeader(name string) string {
	switch name {
	case StripeName:
		return StripeSignatureHeader
	case PaddleName:
		return PaddleSignatureHeader
	case SimulationName:
		return SimulationSignatureHeader
	}
	return ""
}
