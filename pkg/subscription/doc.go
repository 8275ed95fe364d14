// Package subscription keeps the plan catalog and the subscription ledger.
//
// A Catalog is loaded once from a Source (in memory, YAML or a database) and
// validated. Plans carry a price in minor currency units, a billing period and
// a map of limits where -1 means unlimited.
//
// The Ledger owns every state change of subscriptions and payments:
//
//	ledger := subscription.NewLedger(store, catalog)
//	res, err := ledger.Activate(ctx, subscription.Activation{
//		UserID:        userID,
//		PlanID:        "pro",
//		Gateway:       "stripe",
//		TransactionID: paymentIntentID,
//	})
//
// Activate runs in a single per-user transaction: all live subscriptions of
// the user are canceled, the new subscription is inserted and the completed
// payment recorded. A second delivery of the same (gateway, transaction id)
// returns the original rows with Replayed set, so a user never holds more
// than one active or trialing subscription.
//
// Provider updates are applied with ApplyProviderUpdate. Canceled and expired
// subscriptions are terminal for provider events, and an event older than the
// last applied one is skipped, so webhook arrival order does not matter.
// How a provider past_due status is mapped locally is set by PastDuePolicy.
//
// Store implementations live next to their backends; MemoryStore serves tests
// and single-process deployments.
package subscription
