package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownGateway           = errors.New("unknown payment gateway")
	ErrNoConfiguredGateway      = errors.New("no payment gateway is configured")
	ErrNotConfigured            = errors.New("payment gateway is not configured")
	ErrDirectPaymentUnsupported = errors.New("gateway does not support direct card payments")
	ErrRefundUnsupported        = errors.New("gateway cannot refund this payment")
	ErrWebhookSecretMissing     = errors.New("webhook secret is not configured")
	ErrInvalidSignature         = errors.New("invalid webhook signature")
	ErrMalformedPayload         = errors.New("malformed webhook payload")
	ErrGatewayTimeout           = errors.New("payment gateway timed out")
	ErrPriceNotConfigured       = errors.New("plan has no price configured for this gateway")
	ErrNoCheckoutURL            = errors.New("no checkout URL returned from provider")
	ErrInvalidRequest           = errors.New("invalid payment request")
)

// Decline codes returned by card charges.
const (
	DeclineGeneric           = "declined"
	DeclineExpiredCard       = "expired_card"
	DeclineIncorrectCVC      = "incorrect_cvc"
	DeclineProcessingError   = "processing_error"
	DeclineInsufficientFunds = "insufficient_funds"
)

// DeclineError is a card decline. It is an expected business outcome, not a
// transport failure.
type DeclineError struct {
	Code    string
	Message string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("card declined (%s): %s", e.Code, e.Message)
}

// AsDecline returns the DeclineError in err's chain.
func AsDecline(err error) (*DeclineError, bool) {
	var d *DeclineError
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// Error is a failure talking to a provider.
type Error struct {
	Gateway string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Gateway, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(gateway, op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	return &Error{Gateway: gateway, Op: op, Err: err}
}
