package webhook

import "errors"

var (
	ErrMissingSecret     = errors.New("webhook signing secret is not configured")
	ErrInvalidPayload    = errors.New("invalid webhook payload")
	ErrMissingSignature  = errors.New("webhook signature is missing")
	ErrMalformedHeader   = errors.New("malformed webhook signature header")
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
	ErrSignatureExpired  = errors.New("webhook signature timestamp outside tolerance")
)
