package usage_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/usage"
)

func gatePlans() []subscription.Plan {
	return []subscription.Plan{
		{
			ID:     "free",
			Name:   "Free",
			Price:  subscription.NewMoney(0, "USD"),
			Period: subscription.PeriodMonthly,
			Limits: map[string]int64{
				"max_projects":          2,
				"storage_gb":            1,
				"ai_requests_per_month": 3,
			},
			Public: true,
		},
		{
			ID:     "basic",
			Name:   "Basic",
			Price:  subscription.NewMoney(999, "USD"),
			Period: subscription.PeriodMonthly,
			Limits: map[string]int64{
				"max_projects": subscription.Unlimited,
				"storage_mb":   500,
				"storage_gb":   100,
			},
			Public: true,
		},
		{
			ID:     "pro",
			Name:   "Pro",
			Price:  subscription.NewMoney(1999, "USD"),
			Period: subscription.PeriodMonthly,
			Limits: map[string]int64{"max_projects": 10, "courses": 5},
			Public: true,
		},
	}
}

type gateFixture struct {
	gate    *usage.Gate
	ledger  *subscription.Ledger
	tracker *usage.Tracker
	metrics *usage.Metrics
}

func newGate(t *testing.T) *gateFixture {
	t.Helper()
	clk := newClock()
	catalog := subscription.MustNewCatalog(context.Background(), subscription.NewMemorySource(gatePlans()...))
	ledger := subscription.NewLedger(subscription.NewMemoryStore(), catalog, subscription.WithClock(clk.Now))
	tracker := usage.NewTracker(usage.NewMemoryStore(), usage.WithClock(clk.Now))
	metrics := usage.NewMetrics(prometheus.NewRegistry())
	return &gateFixture{
		gate:    usage.NewGate(ledger, catalog, tracker, usage.WithUpgradeURL("https://app.test/pricing"), usage.WithMetrics(metrics)),
		ledger:  ledger,
		tracker: tracker,
		metrics: metrics,
	}
}

func (f *gateFixture) subscribe(t *testing.T, userID, planID string) {
	t.Helper()
	_, err := f.ledger.Activate(context.Background(), subscription.Activation{
		UserID:        userID,
		PlanID:        planID,
		Gateway:       "test",
		TransactionID: "tx-" + userID + "-" + planID,
	})
	require.NoError(t, err)
}

func TestGate_UnlimitedPlan(t *testing.T) {
	t.Parallel()

	f := newGate(t)
	f.subscribe(t, "user-a", "basic")
	ctx := context.Background()

	for i := range 500 {
		d, err := f.gate.Consume(ctx, "user-a", usage.ResourceProjects, 1)
		require.NoError(t, err)
		require.True(t, d.Allowed, "project %d", i+1)
		assert.Equal(t, usage.ReasonUnlimited, d.Reason)
	}

	cur, err := f.tracker.Current(ctx, "user-a", usage.ResourceProjects)
	require.NoError(t, err)
	assert.Equal(t, int64(500), cur)
	assert.Equal(t, 500.0, testutil.ToFloat64(f.metrics.Decisions().WithLabelValues("projects", "unlimited")))
}

func TestGate_LimitReached(t *testing.T) {
	t.Parallel()

	f := newGate(t)
	f.subscribe(t, "user-b", "free")
	ctx := context.Background()

	d, err := f.gate.Consume(ctx, "user-b", usage.ResourceProjects, 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Current)

	d, err = f.gate.Consume(ctx, "user-b", usage.ResourceProjects, 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "current = L-1 is allowed")
	assert.Equal(t, int64(2), d.Current)
	assert.Equal(t, usage.ReasonWithinLimit, d.Reason)

	d, err = f.gate.Check(ctx, "user-b", usage.ResourceProjects)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, usage.ReasonLimitReached, d.Reason)
	assert.Equal(t, usage.ResourceProjects, d.Resource)
	assert.Equal(t, int64(2), d.Current)
	assert.Equal(t, int64(2), d.Limit)
	assert.Equal(t, 100.0, d.Percentage())
	assert.ErrorIs(t, d.Err(), usage.ErrLimitReached)

	denial := f.gate.Denial(d)
	require.NotNil(t, denial)
	assert.Equal(t, "Usage limit reached", denial.Error)
	assert.Equal(t, usage.ResourceProjects, denial.Resource)
	assert.Equal(t, int64(2), denial.Current)
	assert.Equal(t, int64(2), denial.Limit)
	assert.Equal(t, 100.0, denial.Percentage)
	assert.Equal(t, "https://app.test/pricing", denial.UpgradeURL)
	assert.True(t, denial.CanUpgrade)
	assert.True(t, d.HigherPlan)
	assert.Equal(t, "Free", denial.PlanName)
	assert.NotEmpty(t, denial.Message)

	d, err = f.gate.Consume(ctx, "user-b", usage.ResourceProjects, 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	cur, err := f.tracker.Current(ctx, "user-b", usage.ResourceProjects)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur, "denials do not change the counter")
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Decisions().WithLabelValues("projects", "limit_reached")))
}

func TestGate_DenialAlwaysOffersUpgrade(t *testing.T) {
	t.Parallel()

	f := newGate(t)
	f.subscribe(t, "user-top", "pro")
	ctx := context.Background()

	_, err := f.gate.Consume(ctx, "user-top", usage.ResourceCourses, 5)
	require.NoError(t, err)
	d, err := f.gate.Check(ctx, "user-top", usage.ResourceCourses)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	assert.Equal(t, usage.ReasonLimitReached, d.Reason)
	assert.False(t, d.HigherPlan, "no other plan raises the courses ceiling")

	denial := f.gate.Denial(d)
	require.NotNil(t, denial)
	assert.True(t, denial.CanUpgrade)
	assert.Equal(t, "https://app.test/pricing", denial.UpgradeURL)
}

func TestGate_NoActiveSubscription(t *testing.T) {
	t.Parallel()

	f := newGate(t)
	ctx := context.Background()

	d, err := f.gate.Consume(ctx, "nobody", usage.ResourceProjects, 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, usage.ReasonNoActiveSubscription, d.Reason)
	assert.ErrorIs(t, d.Err(), subscription.ErrNoActiveSubscription)
	assert.Equal(t, "No active subscription", f.gate.Denial(d).Error)
	assert.True(t, f.gate.Denial(d).CanUpgrade)

	f.subscribe(t, "gone", "pro")
	_, err = f.ledger.Cancel(ctx, "gone")
	require.NoError(t, err)
	d, err = f.gate.Check(ctx, "gone", usage.ResourceProjects)
	require.NoError(t, err)
	assert.Equal(t, usage.ReasonNoActiveSubscription, d.Reason)

	cur, err := f.tracker.Current(ctx, "nobody", usage.ResourceProjects)
	require.NoError(t, err)
	assert.Zero(t, cur)
}

func TestGate_NotApplicable(t *testing.T) {
	t.Parallel()

	f := newGate(t)
	f.subscribe(t, "u", "basic")

	d, err := f.gate.Consume(context.Background(), "u", "webhooks", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, usage.ReasonNotApplicable, d.Reason)
	assert.Equal(t, subscription.Unlimited, d.Limit)
	assert.Zero(t, d.Percentage())
	assert.Nil(t, d.Denial("x"))
}

func TestGate_Storage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("gigabytes convert to megabytes", func(t *testing.T) {
		t.Parallel()

		f := newGate(t)
		f.subscribe(t, "u", "free")

		d, err := f.gate.Consume(ctx, "u", usage.ResourceStorage, 1000)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(1024), d.Limit)

		d, err = f.gate.Consume(ctx, "u", usage.ResourceStorage, 100)
		require.NoError(t, err)
		assert.False(t, d.Allowed, "1100 MB exceeds 1 GB")
		assert.Equal(t, int64(1000), d.Current)

		d, err = f.gate.Consume(ctx, "u", usage.ResourceStorage, 24)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("explicit megabytes win", func(t *testing.T) {
		t.Parallel()

		f := newGate(t)
		f.subscribe(t, "u", "basic")

		d, err := f.gate.Check(ctx, "u", usage.ResourceStorage)
		require.NoError(t, err)
		assert.Equal(t, int64(500), d.Limit)
	})
}

func TestGate_Release(t *testing.T) {
	t.Parallel()

	f := newGate(t)
	f.subscribe(t, "u", "free")
	ctx := context.Background()

	for range 2 {
		d, err := f.gate.Consume(ctx, "u", usage.ResourceProjects, 1)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	require.NoError(t, f.gate.Release(ctx, "u", usage.ResourceProjects, 1))

	d, err := f.gate.Check(ctx, "u", usage.ResourceProjects)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Current)

	snap, err := f.tracker.Snapshot(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.AllTime(usage.ResourceProjects))
}

func TestGate_ConcurrentConsume(t *testing.T) {
	t.Parallel()

	f := newGate(t)
	f.subscribe(t, "u", "pro")
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.gate.Consume(ctx, "u", usage.ResourceProjects, 1)
			if assert.NoError(t, err) && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), allowed.Load())
	cur, err := f.tracker.Current(ctx, "u", usage.ResourceProjects)
	require.NoError(t, err)
	assert.Equal(t, int64(10), cur)
}

func TestGate_InvalidInput(t *testing.T) {
	t.Parallel()

	f := newGate(t)
	ctx := context.Background()

	_, err := f.gate.Check(ctx, "", usage.ResourceProjects)
	assert.ErrorIs(t, err, usage.ErrMissingUserID)
	_, err = f.gate.Consume(ctx, "u", usage.ResourceProjects, 0)
	assert.ErrorIs(t, err, usage.ErrInvalidAmount)
	_, err = f.gate.Check(ctx, "u", "")
	assert.ErrorIs(t, err, usage.ErrInvalidResource)

	assert.Panics(t, func() { usage.NewGate(nil, nil, nil) })
}

func TestGate_Summary(t *testing.T) {
	t.Parallel()

	f := newGate(t)
	f.subscribe(t, "u", "free")
	ctx := context.Background()

	_, err := f.gate.Consume(ctx, "u", usage.ResourceProjects, 1)
	require.NoError(t, err)
	_, err = f.tracker.Increment(ctx, "u", "exports", 4)
	require.NoError(t, err)

	s, err := f.gate.Summary(ctx, "u")
	require.NoError(t, err)
	assert.True(t, s.Active)
	assert.Equal(t, "free", s.PlanID)

	byKind := make(map[usage.Resource]usage.ResourceUsage)
	for _, r := range s.Resources {
		byKind[r.Resource] = r
	}
	require.Len(t, byKind, 4)
	assert.Equal(t, usage.ResourceUsage{Resource: "projects", Current: 1, AllTime: 1, Limit: 2, Percentage: 50}, byKind["projects"])
	assert.Equal(t, int64(1024), byKind["storage"].Limit)
	assert.Equal(t, int64(3), byKind["ai_requests"].Limit)
	assert.Equal(t, subscription.Unlimited, byKind["exports"].Limit)
	assert.Equal(t, time.Date(2025, time.February, 28, 10, 0, 0, 0, time.UTC), s.NextResetAt)
}
