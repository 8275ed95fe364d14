package subscription

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/dmitrymomot/billingkit/pkg/keylock"
)

// MemoryStore is an in-process Store. User locks are per-user mutexes and
// each transaction works on a staged copy that is committed only when the
// callback returns nil.
type MemoryStore struct {
	mu    sync.RWMutex
	subs  map[string]Subscription
	pays  map[string]Payment
	locks keylock.Locker
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]Subscription),
		pays: make(map[string]Payment),
	}
}

// WithUserLock runs fn holding userID's lock and commits its writes atomically.
func (s *MemoryStore) WithUserLock(ctx context.Context, userID string, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.locks.Lock(userID)()

	tx := &memoryTx{
		store: s,
		subs:  make(map[string]Subscription),
		pays:  make(map[string]Payment),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range tx.pays {
		if existing, ok := s.findPayment(p.Gateway, p.TransactionID); ok && existing.ID != p.ID {
			return ErrDuplicateTransaction
		}
	}
	maps.Copy(s.subs, tx.subs)
	maps.Copy(s.pays, tx.pays)
	return nil
}

// SubscriptionByID returns a subscription by id.
func (s *MemoryStore) SubscriptionByID(_ context.Context, id string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return cloneSubscription(sub), nil
}

// SubscriptionByExternalID resolves a provider subscription id.
func (s *MemoryStore) SubscriptionByExternalID(_ context.Context, gateway, externalID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.Gateway == gateway && sub.ExternalSubscriptionID == externalID {
			return cloneSubscription(sub), nil
		}
	}
	for _, p := range s.pays {
		if p.Gateway != gateway || p.SubscriptionID == "" {
			continue
		}
		if p.Metadata[MetadataExternalSubscriptionID] == externalID {
			if sub, ok := s.subs[p.SubscriptionID]; ok {
				return cloneSubscription(sub), nil
			}
		}
	}
	return nil, ErrSubscriptionNotFound
}

// ActiveSubscription returns the user's live subscription.
func (s *MemoryStore) ActiveSubscription(_ context.Context, userID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live := s.byUser(userID, func(sub Subscription) bool { return sub.Status.Live() })
	if len(live) == 0 {
		return nil, ErrNoActiveSubscription
	}
	return &live[0], nil
}

// SubscriptionsByUser returns the user's subscriptions, newest first.
func (s *MemoryStore) SubscriptionsByUser(_ context.Context, userID string) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byUser(userID, nil), nil
}

// PaymentByTransaction returns the payment recorded for a gateway transaction.
func (s *MemoryStore) PaymentByTransaction(_ context.Context, gateway, transactionID string) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.findPayment(gateway, transactionID)
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

// PaymentByTransactionID looks a transaction up across gateways.
func (s *MemoryStore) PaymentByTransactionID(_ context.Context, transactionID string) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.pays {
		if p.TransactionID == transactionID {
			return clonePayment(p), nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (s *MemoryStore) findPayment(gateway, transactionID string) (Payment, bool) {
	for _, p := range s.pays {
		if p.Gateway == gateway && p.TransactionID == transactionID {
			return p, true
		}
	}
	return Payment{}, false
}

func (s *MemoryStore) byUser(userID string, keep func(Subscription) bool) []Subscription {
	var out []Subscription
	for _, sub := range s.subs {
		if sub.UserID != userID || (keep != nil && !keep(sub)) {
			continue
		}
		out = append(out, *cloneSubscription(sub))
	}
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(subs []Subscription) {
	slices.SortFunc(subs, func(a, b Subscription) int {
		if n := b.CreatedAt.Compare(a.CreatedAt); n != 0 {
			return n
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

type memoryTx struct {
	store *MemoryStore
	subs  map[string]Subscription
	pays  map[string]Payment
}

func (tx *memoryTx) subscription(id string) (Subscription, bool) {
	if sub, ok := tx.subs[id]; ok {
		return sub, true
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	sub, ok := tx.store.subs[id]
	return sub, ok
}

func (tx *memoryTx) SubscriptionsByUser(_ context.Context, userID string) ([]Subscription, error) {
	merged := make(map[string]Subscription)
	tx.store.mu.RLock()
	for id, sub := range tx.store.subs {
		if sub.UserID == userID {
			merged[id] = sub
		}
	}
	tx.store.mu.RUnlock()
	for id, sub := range tx.subs {
		if sub.UserID == userID {
			merged[id] = sub
		}
	}
	out := make([]Subscription, 0, len(merged))
	for _, sub := range merged {
		out = append(out, *cloneSubscription(sub))
	}
	sortNewestFirst(out)
	return out, nil
}

func (tx *memoryTx) LiveSubscriptions(ctx context.Context, userID string) ([]Subscription, error) {
	all, _ := tx.SubscriptionsByUser(ctx, userID)
	return slices.DeleteFunc(all, func(sub Subscription) bool { return !sub.Status.Live() }), nil
}

func (tx *memoryTx) SubscriptionByID(_ context.Context, id string) (*Subscription, error) {
	sub, ok := tx.subscription(id)
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return cloneSubscription(sub), nil
}

func (tx *memoryTx) PaymentByTransaction(_ context.Context, gateway, transactionID string) (*Payment, error) {
	for _, p := range tx.pays {
		if p.Gateway == gateway && p.TransactionID == transactionID {
			return clonePayment(p), nil
		}
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	p, ok := tx.store.findPayment(gateway, transactionID)
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (tx *memoryTx) PaymentByID(_ context.Context, id string) (*Payment, error) {
	if p, ok := tx.pays[id]; ok {
		return clonePayment(p), nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	p, ok := tx.store.pays[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (tx *memoryTx) InsertSubscription(_ context.Context, sub *Subscription) error {
	if _, ok := tx.subscription(sub.ID); ok {
		return ErrStorageFailure
	}
	tx.subs[sub.ID] = *cloneSubscription(*sub)
	return nil
}

func (tx *memoryTx) UpdateSubscription(_ context.Context, sub *Subscription) error {
	if _, ok := tx.subscription(sub.ID); !ok {
		return ErrSubscriptionNotFound
	}
	tx.subs[sub.ID] = *cloneSubscription(*sub)
	return nil
}

func (tx *memoryTx) InsertPayment(ctx context.Context, p *Payment) error {
	if _, err := tx.PaymentByTransaction(ctx, p.Gateway, p.TransactionID); err == nil {
		return ErrDuplicateTransaction
	}
	tx.pays[p.ID] = *clonePayment(*p)
	return nil
}

func (tx *memoryTx) UpdatePayment(ctx context.Context, p *Payment) error {
	if _, err := tx.PaymentByID(ctx, p.ID); err != nil {
		return err
	}
	tx.pays[p.ID] = *clonePayment(*p)
	return nil
}

func cloneSubscription(sub Subscription) *Subscription {
	sub.TrialEndsAt = clonePtr(sub.TrialEndsAt)
	sub.CanceledAt = clonePtr(sub.CanceledAt)
	sub.ProviderUpdatedAt = clonePtr(sub.ProviderUpdatedAt)
	return &sub
}

func clonePayment(p Payment) *Payment {
	p.Metadata = maps.Clone(p.Metadata)
	return &p
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
