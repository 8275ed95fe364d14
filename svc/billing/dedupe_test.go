package billing_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/svc/billing"
)

func TestMemoryDeduper(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := billing.NewMemoryDeduper(50 * time.Millisecond)

	first, err := d.Claim(ctx, "stripe:evt_1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = d.Claim(ctx, "stripe:evt_1")
	require.NoError(t, err)
	assert.False(t, first)

	first, err = d.Claim(ctx, "paddle:evt_1")
	require.NoError(t, err)
	assert.True(t, first, "keys are per gateway")

	require.NoError(t, d.Release(ctx, "stripe:evt_1"))
	first, err = d.Claim(ctx, "stripe:evt_1")
	require.NoError(t, err)
	assert.True(t, first)

	time.Sleep(80 * time.Millisecond)
	first, err = d.Claim(ctx, "paddle:evt_1")
	require.NoError(t, err)
	assert.True(t, first, "expired keys can be claimed again")
}

func TestMemoryDeduper_SweepsOncePerTTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	d := billing.NewMemoryDeduper(time.Minute)
	d.SetClock(func() time.Time { return now })
	claim := func(key string) bool {
		t.Helper()
		first, err := d.Claim(ctx, key)
		require.NoError(t, err)
		return first
	}

	claim("stripe:evt_a")

	now = start.Add(59 * time.Second)
	for i := range 100 {
		claim(fmt.Sprintf("stripe:evt_%d", i))
	}
	assert.Equal(t, 101, d.Len())

	now = start.Add(time.Minute)
	claim("stripe:evt_b")
	assert.Equal(t, 101, d.Len(), "the sweep dropped evt_a")

	now = start.Add(119 * time.Second)
	assert.True(t, claim("stripe:evt_0"), "an expired key is claimable before it is swept")
	assert.Equal(t, 101, d.Len(), "no sweep until a ttl has passed since the last one")

	now = start.Add(2 * time.Minute)
	claim("stripe:evt_c")
	assert.Equal(t, 2, d.Len(), "the sweep drops every expired key")
}

func TestRedisDeduper(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	d := billing.NewRedisDeduper(client, time.Hour)

	first, err := d.Claim(ctx, "stripe:evt_1")
	require.NoError(t, err)
	assert.True(t, first)
	assert.True(t, mr.Exists("billing:webhook:stripe:evt_1"))

	first, err = d.Claim(ctx, "stripe:evt_1")
	require.NoError(t, err)
	assert.False(t, first)

	mr.FastForward(2 * time.Hour)
	first, err = d.Claim(ctx, "stripe:evt_1")
	require.NoError(t, err)
	assert.True(t, first)

	require.NoError(t, d.Release(ctx, "stripe:evt_1"))
	assert.False(t, mr.Exists("billing:webhook:stripe:evt_1"))

	mr.Close()
	_, err = d.Claim(ctx, "stripe:evt_2")
	assert.Error(t, err)
}
