package usage

import "errors"

var (
	ErrMissingUserID    = errors.New("usage: user id is required")
	ErrInvalidResource  = errors.New("usage: invalid resource kind")
	ErrInvalidAmount    = errors.New("usage: amount must be positive")
	ErrLimitReached     = errors.New("usage: limit reached")
	ErrUsageUnavailable = errors.New("usage: counters unavailable")
)
