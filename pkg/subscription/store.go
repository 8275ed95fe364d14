package subscription

import "context"

// Store persists subscriptions and payments.
//
// Implementations must run WithUserLock callbacks in a single transaction that
// serializes with every other WithUserLock call for the same user, and must
// enforce uniqueness of (gateway, transaction_id) by returning
// ErrDuplicateTransaction from Tx.InsertPayment.
type Store interface {
	WithUserLock(ctx context.Context, userID string, fn func(tx Tx) error) error

	SubscriptionByID(ctx context.Context, id string) (*Subscription, error)
	// SubscriptionByExternalID resolves a local subscription from a provider
	// subscription id, falling back to payment metadata.
	SubscriptionByExternalID(ctx context.Context, gateway, externalID string) (*Subscription, error)
	ActiveSubscription(ctx context.Context, userID string) (*Subscription, error)
	SubscriptionsByUser(ctx context.Context, userID string) ([]Subscription, error)

	PaymentByTransaction(ctx context.Context, gateway, transactionID string) (*Payment, error)
	PaymentByTransactionID(ctx context.Context, transactionID string) (*Payment, error)
}

// Tx is the view of the store inside a user-locked transaction.
type Tx interface {
	// LiveSubscriptions returns the user's active, trialing and past_due rows.
	LiveSubscriptions(ctx context.Context, userID string) ([]Subscription, error)
	SubscriptionsByUser(ctx context.Context, userID string) ([]Subscription, error)
	SubscriptionByID(ctx context.Context, id string) (*Subscription, error)
	PaymentByTransaction(ctx context.Context, gateway, transactionID string) (*Payment, error)
	PaymentByID(ctx context.Context, id string) (*Payment, error)

	InsertSubscription(ctx context.Context, sub *Subscription) error
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	InsertPayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p *Payment) error
}
