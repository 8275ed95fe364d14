package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Tracker maintains per-user usage counters. Every operation first applies
// the lazy monthly reset, so no scheduler is needed to roll periods over.
type Tracker struct {
	store Store
	now   func() time.Time
	log   *slog.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock sets the time source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets the tracker logger.
func WithLogger(log *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if log != nil {
			t.log = log
		}
	}
}

// NewTracker creates a Tracker. It panics if store is nil.
func NewTracker(store Store, opts ...TrackerOption) *Tracker {
	if store == nil {
		panic("usage: store is required")
	}
	t := &Tracker{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		log:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(logger.Component("usage_tracker"))
	return t
}

// Atomic runs fn on userID's usage row under the store's per-user lock,
// after the monthly reset guard. Changes made by fn are persisted when it
// returns nil.
func (t *Tracker) Atomic(ctx context.Context, userID string, fn func(u *UserUsage) error) error {
	if userID == "" {
		return ErrMissingUserID
	}
	return t.store.Update(ctx, userID, func(u *UserUsage) error {
		now := t.now()
		if u.rollover(now) {
			t.log.DebugContext(ctx, "usage period reset",
				logger.UserID(userID),
				slog.Time("last_reset_at", u.LastResetAt),
			)
		}
		u.UpdatedAt = now
		if fn == nil {
			return nil
		}
		return fn(u)
	})
}

// Increment adds n to the period and all-time counters of kind and returns
// the new period value.
func (t *Tracker) Increment(ctx context.Context, userID string, kind Resource, n int64) (int64, error) {
	if err := validate(kind, n); err != nil {
		return 0, err
	}
	var current int64
	err := t.Atomic(ctx, userID, func(u *UserUsage) error {
		u.add(kind, n)
		current = u.Current(kind)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return current, nil
}

// Decrement subtracts n from the period counter of kind, never going below
// zero. All-time counters are left untouched.
func (t *Tracker) Decrement(ctx context.Context, userID string, kind Resource, n int64) (int64, error) {
	if err := validate(kind, n); err != nil {
		return 0, err
	}
	var current int64
	err := t.Atomic(ctx, userID, func(u *UserUsage) error {
		u.release(kind, n)
		current = u.Current(kind)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return current, nil
}

// Current returns the period counter of kind.
func (t *Tracker) Current(ctx context.Context, userID string, kind Resource) (int64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidResource, kind)
	}
	var current int64
	err := t.Atomic(ctx, userID, func(u *UserUsage) error {
		current = u.Current(kind)
		return nil
	})
	return current, err
}

// Snapshot returns a copy of the user's usage row.
func (t *Tracker) Snapshot(ctx context.Context, userID string) (*UserUsage, error) {
	var out *UserUsage
	err := t.Atomic(ctx, userID, func(u *UserUsage) error {
		out = u.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func validate(kind Resource, n int64) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidResource, kind)
	}
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, n)
	}
	return nil
}
