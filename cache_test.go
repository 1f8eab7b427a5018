package cache_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cache "github.com/krisalay/offline-cache"
	"github.com/krisalay/offline-cache/api"
	"github.com/krisalay/offline-cache/engine"
	"github.com/krisalay/offline-cache/eviction"
	"github.com/krisalay/offline-cache/expiration"
	"github.com/krisalay/offline-cache/types"
)

var _ api.Cache[string] = (*cache.BoundedCache[string])(nil)

type payload struct {
	A    int
	Tags []string
}

//
// ================= HELPER: CREATE CACHE ON A FAKE CLOCK =================
//

func newTestCache(t *testing.T, capacity int, opts ...cache.Option) (*cache.BoundedCache[payload], clockwork.FakeClock, *types.Counters) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	metrics := &types.Counters{}

	opts = append([]cache.Option{
		cache.WithCapacity(capacity),
		cache.WithSweepInterval(0),
		cache.WithEngineOptions(engine.WithClock(clock), engine.WithMetrics(metrics)),
	}, opts...)

	c := cache.NewBoundedCache[payload](opts...)
	t.Cleanup(c.Close)
	return c, clock, metrics
}

//
// ================= BASIC OPERATIONS =================
//

func TestSetThenGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t, 10)

	want := payload{A: 1, Tags: []string{"x", "y"}}
	for _, ttl := range []time.Duration{time.Millisecond, time.Second, time.Hour} {
		c.Set(ctx, "x", want, ttl)
		got, ok := c.Get(ctx, "x")
		require.True(t, ok)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("ttl %s (-want +got):\n%s", ttl, diff)
		}
	}
}

func TestGetMissingKey(t *testing.T) {
	c, _, metrics := newTestCache(t, 10)

	_, ok := c.Get(context.Background(), "missing")
	assert.False(t, ok)
	assert.Equal(t, int64(1), metrics.Snapshot().Misses)
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	ctx := context.Background()
	c, _, metrics := newTestCache(t, 2)

	c.Set(ctx, "a", payload{A: 1}, 0)
	c.Set(ctx, "b", payload{A: 2}, 0)
	c.Set(ctx, "b", payload{A: 3}, 0)

	assert.Equal(t, 2, c.Len())
	assert.Zero(t, metrics.Snapshot().Evictions)
	v, _ := c.Get(ctx, "b")
	assert.Equal(t, 3, v.A)
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t, 10)

	c.Set(ctx, "a", payload{}, 0)
	c.Set(ctx, "b", payload{}, 0)

	assert.True(t, c.Delete(ctx, "a"))
	assert.False(t, c.Delete(ctx, "a"))
	assert.False(t, c.Has(ctx, "a"))

	c.Clear(ctx)
	assert.Zero(t, c.Len())

	// eviction state was reset with the entries
	c.Set(ctx, "c", payload{}, 0)
	assert.True(t, c.Has(ctx, "c"))
}

//
// ================= CAPACITY & EVICTION =================
//

func TestEvictsLeastRecentlyAccessed(t *testing.T) {
	ctx := context.Background()
	c, clock, _ := newTestCache(t, 2)

	c.Set(ctx, "A", payload{A: 1}, 0)
	clock.Advance(time.Millisecond)
	c.Set(ctx, "B", payload{A: 2}, 0)
	clock.Advance(time.Millisecond)
	_, ok := c.Get(ctx, "B")
	require.True(t, ok)
	clock.Advance(time.Millisecond)
	c.Set(ctx, "C", payload{A: 3}, 0)

	assert.False(t, c.Has(ctx, "A"))
	assert.True(t, c.Has(ctx, "B"))
	assert.True(t, c.Has(ctx, "C"))
}

func TestReadRescuesOldestInsert(t *testing.T) {
	ctx := context.Background()
	c, _, metrics := newTestCache(t, 3)

	for _, k := range []string{"k1", "k2", "k3"} {
		c.Set(ctx, k, payload{}, 0)
	}
	c.Get(ctx, "k1")
	c.Get(ctx, "k2")
	c.Set(ctx, "k4", payload{}, 0)

	assert.False(t, c.Has(ctx, "k3"), "k3 has the oldest access time")
	assert.True(t, c.Has(ctx, "k1"))
	assert.Equal(t, int64(1), metrics.Snapshot().Evictions)
}

func TestHasDoesNotCountAsAccess(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t, 2)

	c.Set(ctx, "A", payload{}, 0)
	c.Set(ctx, "B", payload{}, 0)
	require.True(t, c.Has(ctx, "A"))
	c.Set(ctx, "C", payload{}, 0)

	assert.False(t, c.Has(ctx, "A"))
}

func TestFIFOEvictionIgnoresReads(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t, 2, cache.WithEviction(eviction.FIFO))

	c.Set(ctx, "A", payload{}, 0)
	c.Set(ctx, "B", payload{}, 0)
	c.Get(ctx, "A")
	c.Set(ctx, "C", payload{}, 0)

	assert.False(t, c.Has(ctx, "A"))
	assert.True(t, c.Has(ctx, "B"))
}

//
// ================= TTL =================
//

func TestTTLExpiration(t *testing.T) {
	ctx := context.Background()
	c, clock, metrics := newTestCache(t, 10)

	c.Set(ctx, "x", payload{A: 1}, time.Second)

	clock.Advance(time.Second)
	_, ok := c.Get(ctx, "x")
	assert.True(t, ok, "valid up to and including the expiry instant")

	clock.Advance(500 * time.Millisecond)
	_, ok = c.Get(ctx, "x")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
	assert.Equal(t, int64(1), metrics.Snapshot().Expired)
}

func TestDefaultTTL(t *testing.T) {
	ctx := context.Background()
	c, clock, _ := newTestCache(t, 10, cache.WithDefaultTTL(time.Minute))

	c.Set(ctx, "x", payload{}, 0)
	clock.Advance(59 * time.Second)
	assert.True(t, c.Has(ctx, "x"))
	clock.Advance(2 * time.Second)
	assert.False(t, c.Has(ctx, "x"))
}

func TestSlidingExpiration(t *testing.T) {
	ctx := context.Background()
	c, clock, _ := newTestCache(t, 10, cache.WithEngineOptions(
		engine.WithExpiration(&expiration.ExpireAfterAccess{TTL: 10 * time.Second}),
	))

	c.Set(ctx, "s", payload{}, 0)
	for i := 0; i < 3; i++ {
		clock.Advance(8 * time.Second)
		_, ok := c.Get(ctx, "s")
		require.True(t, ok)
	}
	clock.Advance(11 * time.Second)
	_, ok := c.Get(ctx, "s")
	assert.False(t, ok)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	c, clock, _ := newTestCache(t, 10)

	c.Set(ctx, "short", payload{}, time.Second)
	c.Set(ctx, "long", payload{}, time.Hour)
	clock.Advance(2 * time.Second)

	assert.Equal(t, 1, c.Stats().Expired)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.Sweep())
}

func TestBackgroundSweep(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := cache.NewBoundedCache[payload](
		cache.WithSweepInterval(time.Minute),
		cache.WithEngineOptions(engine.WithClock(clock)),
	)
	defer c.Close()

	c.Set(ctx, "x", payload{}, time.Second)
	clock.BlockUntil(1)
	clock.Advance(time.Minute)

	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, time.Millisecond)
}

//
// ================= STATS =================
//

func TestStats(t *testing.T) {
	ctx := context.Background()
	c, clock, _ := newTestCache(t, 5)

	start := clock.Now()
	c.Set(ctx, "a", payload{}, 0)
	clock.Advance(time.Second)
	c.Set(ctx, "b", payload{}, 0)
	c.Get(ctx, "a")
	c.Get(ctx, "a")
	c.Get(ctx, "b")
	c.Get(ctx, "b")

	s := c.Stats()
	assert.Equal(t, 2, s.Size)
	assert.Equal(t, 5, s.Capacity)
	assert.Equal(t, 2.0, s.AvgAccessCount)
	assert.Equal(t, start, s.Oldest)
	assert.Equal(t, start.Add(time.Second), s.Newest)
}

//
// ================= CONCURRENCY TEST =================
//

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t, 50)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("key-%d", (id*200+j)%80)
				c.Set(ctx, key, payload{A: j}, 0)
				c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
}
