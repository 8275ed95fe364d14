package billing_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/usage"
	"github.com/dmitrymomot/billingkit/svc/billing"
)

func testPlans() []subscription.Plan {
	return []subscription.Plan{
		{
			ID:     "free",
			Name:   "Free",
			Price:  subscription.NewMoney(0, "USD"),
			Period: subscription.PeriodMonthly,
			Limits: map[string]int64{"max_projects": 2},
			Public: true,
		},
		{
			ID:        "pro",
			Name:      "Pro",
			Price:     subscription.NewMoney(1999, "USD"),
			Period:    subscription.PeriodMonthly,
			Limits:    map[string]int64{"max_projects": 10},
			TrialDays: 14,
			Public:    true,
		},
		{
			ID:     "lifetime",
			Name:   "Lifetime",
			Price:  subscription.NewMoney(29900, "USD"),
			Period: subscription.PeriodLifetime,
			Limits: map[string]int64{"max_projects": subscription.Unlimited},
			Public: true,
		},
	}
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) PaymentFailed(ctx context.Context, s billing.PaymentFailedSignal) error {
	return m.Called(ctx, s).Error(0)
}

func (m *mockNotifier) WebhookUnresolved(ctx context.Context, s billing.UnresolvedSignal) error {
	return m.Called(ctx, s).Error(0)
}

// flakyStore fails ledger transactions while down is set.
type flakyStore struct {
	*subscription.MemoryStore
	down atomic.Bool
}

var errStoreDown = errors.New("database unavailable")

func (s *flakyStore) WithUserLock(ctx context.Context, userID string, fn func(tx subscription.Tx) error) error {
	if s.down.Load() {
		return errStoreDown
	}
	return s.MemoryStore.WithUserLock(ctx, userID, fn)
}

type fixture struct {
	svc      *billing.Service
	ledger   *subscription.Ledger
	store    *flakyStore
	sim      *gateway.Simulation
	notifier *mockNotifier
	metrics  *billing.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	catalog, err := subscription.NewCatalog(ctx, subscription.NewMemorySource(testPlans()...))
	require.NoError(t, err)
	store := &flakyStore{MemoryStore: subscription.NewMemoryStore()}
	ledger := subscription.NewLedger(store, catalog)
	tracker := usage.NewTracker(usage.NewMemoryStore())
	gate := usage.NewGate(ledger, catalog, tracker)

	sim := gateway.NewSimulation(gateway.SimulationConfig{
		WebhookSecret: "whsec_test",
		CheckoutURL:   "https://billing.test/checkout",
	})
	resolver := gateway.NewResolver(gateway.ResolverConfig{Default: "test", Fallback: "test", AllowSimulation: true}, sim)

	notifier := &mockNotifier{}
	metrics := billing.NewMetrics(prometheus.NewRegistry())
	svc := billing.NewService(billing.Config{}, resolver, ledger, gate,
		billing.WithNotifier(notifier),
		billing.WithMetrics(metrics),
		billing.WithDeduper(billing.NewMemoryDeduper(0)),
	)
	return &fixture{svc: svc, ledger: ledger, store: store, sim: sim, notifier: notifier, metrics: metrics}
}

func (f *fixture) pay(t *testing.T, userID, planID string) *billing.PaymentResult {
	t.Helper()
	res, err := f.svc.ProcessPayment(context.Background(), billing.PaymentParams{
		UserID: userID,
		PlanID: planID,
		Card:   gateway.Card{Number: gateway.CardSuccess, Expiry: "12/40", CVC: "123"},
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) deliver(t *testing.T, ev gateway.Event) (*billing.WebhookResult, error) {
	t.Helper()
	payload, sig, err := f.sim.SignEvent(ev)
	require.NoError(t, err)
	return f.svc.HandleWebhook(context.Background(), "test", payload, sig)
}
