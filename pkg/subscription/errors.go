package subscription

import "errors"

var (
	ErrPlanNotFound             = errors.New("subscription plan not found")
	ErrInvalidPlanConfiguration = errors.New("invalid subscription plan configuration")
	ErrFailedToLoadPlans        = errors.New("failed to load subscription plans")
	ErrInvalidAmount            = errors.New("invalid money amount")

	ErrSubscriptionNotFound   = errors.New("subscription not found")
	ErrSubscriptionNotMatched = errors.New("no local subscription matches the provider subscription")
	ErrNoActiveSubscription   = errors.New("no active subscription")
	ErrInvalidTransition      = errors.New("invalid subscription state transition")
	ErrResumeNotAllowed       = errors.New("subscription cannot be resumed")

	ErrPaymentNotFound      = errors.New("payment not found")
	ErrDuplicateTransaction = errors.New("transaction already recorded")
	ErrPaymentNotRefundable = errors.New("payment is not refundable")
	ErrRefundExceedsPayment = errors.New("refund amount exceeds the payment amount")
	ErrMissingTransactionID = errors.New("transaction id is required")
	ErrMissingUserID        = errors.New("user id is required")
	ErrStorageFailure       = errors.New("subscription storage failure")
)
