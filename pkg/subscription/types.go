package subscription

import "time"

// Unlimited marks a plan limit without a ceiling.
const Unlimited int64 = -1

// Period is a plan's billing period.
type Period string

const (
	PeriodMonthly  Period = "monthly"
	PeriodYearly   Period = "yearly"
	PeriodLifetime Period = "lifetime"
)

// Valid reports whether p is a known billing period.
func (p Period) Valid() bool {
	switch p {
	case PeriodMonthly, PeriodYearly, PeriodLifetime:
		return true
	}
	return false
}

// Recurring reports whether the period renews.
func (p Period) Recurring() bool {
	return p == PeriodMonthly || p == PeriodYearly
}

// LifetimeEndsAt is the far-future end date given to lifetime subscriptions.
var LifetimeEndsAt = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// EndsAt returns the end of one billing period starting at start.
func (p Period) EndsAt(start time.Time) time.Time {
	switch p {
	case PeriodYearly:
		return start.AddDate(1, 0, 0)
	case PeriodLifetime:
		return LifetimeEndsAt
	default:
		return start.AddDate(0, 1, 0)
	}
}

// Status is the local subscription status.
type Status string

const (
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// Live reports whether the status grants access to plan features.
func (s Status) Live() bool {
	return s == StatusActive || s == StatusTrialing || s == StatusPastDue
}

// Terminal reports whether provider events may no longer change the status.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusExpired
}

// ProviderStatus is a subscription status as reported by a payment provider,
// normalized across gateways.
type ProviderStatus string

const (
	ProviderActive   ProviderStatus = "active"
	ProviderTrialing ProviderStatus = "trialing"
	ProviderPastDue  ProviderStatus = "past_due"
	ProviderCanceled ProviderStatus = "canceled"
	ProviderUnpaid   ProviderStatus = "unpaid"
	ProviderUnknown  ProviderStatus = "unknown"
)

// PaymentStatus is the lifecycle status of a Payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
	// PaymentRefunding marks a payment whose refund is in flight at the
	// provider. It admits no second refund.
	PaymentRefunding PaymentStatus = "refunding"
)

// PastDuePolicy decides the local status of a subscription whose provider
// reports it past due.
type PastDuePolicy string

const (
	// GraceKeepActive keeps the subscription active while the provider retries
	// the payment. There is no grace duration and no escalation to expired.
	GraceKeepActive PastDuePolicy = "grace_keep_active"
	// StrictPastDue mirrors the provider status locally.
	StrictPastDue PastDuePolicy = "strict"
)

// DefaultPastDuePolicy keeps access for past-due subscriptions.
const DefaultPastDuePolicy = GraceKeepActive
