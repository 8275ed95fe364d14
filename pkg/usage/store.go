package usage

import (
	"context"
	"sync"

	"github.com/dmitrymomot/billingkit/pkg/keylock"
)

// Store persists UserUsage rows.
type Store interface {
	// Update loads userID's row under an exclusive per-user lock, creating
	// an empty one when missing, runs fn and persists the row when fn
	// returns nil. Concurrent updates for the same user serialize.
	Update(ctx context.Context, userID string, fn func(u *UserUsage) error) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	rows  map[string]*UserUsage
	locks keylock.Locker
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*UserUsage)}
}

// Update implements Store. fn works on a copy; the copy replaces the stored
// row only when fn succeeds.
func (s *MemoryStore) Update(ctx context.Context, userID string, fn func(u *UserUsage) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.locks.Lock(userID)()

	s.mu.RLock()
	row, ok := s.rows[userID]
	s.mu.RUnlock()

	var u *UserUsage
	if ok {
		u = row.Clone()
	} else {
		u = NewUserUsage(userID)
	}
	if err := fn(u); err != nil {
		return err
	}

	s.mu.Lock()
	s.rows[userID] = u
	s.mu.Unlock()
	return nil
}
