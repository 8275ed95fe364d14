package subscription

import (
	"time"
)

// Subscription is a user's subscription to a plan. A user has at most one
// active or trialing subscription; older rows stay as history.
type Subscription struct {
	ID                     string     `json:"id"`
	UserID                 string     `json:"user_id"`
	PlanID                 string     `json:"plan_id"`
	Status                 Status     `json:"status"`
	Gateway                string     `json:"gateway"`
	ExternalSubscriptionID string     `json:"external_subscription_id,omitempty"`
	ExternalCustomerID     string     `json:"external_customer_id,omitempty"`
	StartsAt               time.Time  `json:"starts_at"`
	EndsAt                 time.Time  `json:"ends_at"`
	TrialEndsAt            *time.Time `json:"trial_ends_at,omitempty"`
	CanceledAt             *time.Time `json:"canceled_at,omitempty"`
	ProviderUpdatedAt      *time.Time `json:"-"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// IsLive reports whether the subscription grants plan access.
func (s *Subscription) IsLive() bool {
	return s.Status.Live()
}

// IsTrialing returns true if the subscription is in trial status.
func (s *Subscription) IsTrialing() bool {
	return s.Status == StatusTrialing
}

// IsCanceled returns true if the subscription is canceled.
func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// IsLifetime reports whether the subscription never renews.
func (s *Subscription) IsLifetime() bool {
	return s.EndsAt.Equal(LifetimeEndsAt)
}

// TrialDaysRemainingAt returns the number of days remaining in the trial at a given time.
// Returns 0 if not in trial or trial has expired.
func (s *Subscription) TrialDaysRemainingAt(now time.Time) int {
	if !s.IsTrialing() || s.TrialEndsAt == nil {
		return 0
	}

	remaining := s.TrialEndsAt.Sub(now)
	if remaining <= 0 {
		return 0
	}

	// Partial days round to the nearest whole day.
	days := remaining.Hours() / 24
	return int(days + 0.5)
}

// Payment is a recorded payment. TransactionID is unique per gateway.
type Payment struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	Amount         Money             `json:"amount"`
	Gateway        string            `json:"gateway"`
	TransactionID  string            `json:"transaction_id"`
	Status         PaymentStatus     `json:"status"`
	RefundedAmount int64             `json:"refunded_amount,omitempty"`
	RefundID       string            `json:"refund_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// MetadataExternalSubscriptionID is the payment metadata key that carries the
// provider subscription id for rows written before the dedicated column.
const MetadataExternalSubscriptionID = "external_subscription_id"

// Refundable reports whether the payment can still be refunded.
func (p *Payment) Refundable() bool {
	return p.Status == PaymentCompleted
}
