package billing

import "errors"

var (
	ErrInvalidParams     = errors.New("billing: invalid parameters")
	ErrPlanNotAvailable  = errors.New("billing: plan is not available for purchase")
	ErrRefundFailed      = errors.New("billing: refund failed")
	ErrWebhookProcessing = errors.New("billing: webhook processing failed")
)
