package billing

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers processed webhook event ids.
type Deduper interface {
	// Claim marks key as seen and reports whether this call was the first.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a provider retry is processed again.
	Release(ctx context.Context, key string) error
}

// MemoryDeduper is an in-process Deduper with expiring keys. Expired keys
// are swept at most once per ttl, so an expired key stays in memory for
// under two ttl periods.
type MemoryDeduper struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	seen      map[string]time.Time
	nextSweep time.Time
}

// NewMemoryDeduper creates a MemoryDeduper. Keys expire after ttl; a
// non-positive ttl keeps them forever.
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

func (d *MemoryDeduper) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if exp, ok := d.seen[key]; ok && (exp.IsZero() || now.Before(exp)) {
		return false, nil
	}
	var exp time.Time
	if d.ttl > 0 {
		exp = now.Add(d.ttl)
		if !now.Before(d.nextSweep) {
			d.sweep(now)
			d.nextSweep = now.Add(d.ttl)
		}
	}
	d.seen[key] = exp
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}

func (d *MemoryDeduper) sweep(now time.Time) {
	for k, exp := range d.seen {
		if !exp.IsZero() && !now.Before(exp) {
			delete(d.seen, k)
		}
	}
}

// RedisDeduper is a Deduper backed by Redis SETNX, shared by every instance
// of the service.
type RedisDeduper struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisDeduper creates a RedisDeduper. Keys are stored under
// "billing:webhook:" and expire after ttl.
func NewRedisDeduper(client redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	if client == nil {
		panic("billing: redis client is required")
	}
	return &RedisDeduper{client: client, ttl: ttl, prefix: "billing:webhook:"}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+key, time.Now().Unix(), d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.prefix+key).Err()
}
