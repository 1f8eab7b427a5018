package cache

import (
	"context"
	"sync"
	"time"

	"github.com/krisalay/offline-cache/engine"
	"github.com/krisalay/offline-cache/eviction"
	"github.com/krisalay/offline-cache/types"
)

const (
	// DefaultCapacity is the number of entries a BoundedCache holds unless configured.
	DefaultCapacity = 100

	// DefaultTTL is the TTL applied when Set is called without one.
	DefaultTTL = 5 * time.Minute

	// DefaultSweepInterval is how often expired entries are purged in the background.
	DefaultSweepInterval = 5 * time.Minute
)

/*
BoundedCache is the in-process cache tier.

This struct is the orchestrator that connects:
- storage (a plain map guarded by one mutex)
- eviction (which key goes when the cache is full)
- expiration and metrics (delegated to the engine)
- a background sweep that drops expired entries nobody reads again

Eviction is global across the whole cache, so the key removed at capacity is always
the one with the smallest last-access time.
*/
type BoundedCache[T any] struct {
	mu       sync.Mutex
	entries  map[string]*types.CacheEntry[T]
	eviction eviction.Policy

	// engine contains the rules: clock, TTL, metrics, logging.
	engine *engine.CacheEngine

	capacity      int
	sweepInterval time.Duration
	policyType    eviction.PolicyType

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a BoundedCache.
type Option func(*config)

type config struct {
	capacity      int
	defaultTTL    time.Duration
	sweepInterval time.Duration
	policy        eviction.PolicyType
	engineOpts    []engine.Option
}

// WithCapacity sets the maximum number of entries.
func WithCapacity(n int) Option {
	return func(c *config) { c.capacity = n }
}

// WithDefaultTTL sets the TTL used when Set gets ttl <= 0.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithSweepInterval sets the background sweep period. Zero or negative disables the sweep.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) { c.sweepInterval = d }
}

// WithEviction selects the eviction policy. LRU is the default.
func WithEviction(p eviction.PolicyType) Option {
	return func(c *config) { c.policy = p }
}

// WithEngineOptions passes options (clock, metrics, logger, expiration) to the engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(c *config) { c.engineOpts = append(c.engineOpts, opts...) }
}

/*
NewBoundedCache creates a cache and starts its sweep goroutine.
Call Close to stop it.
*/
func NewBoundedCache[T any](opts ...Option) *BoundedCache[T] {
	cfg := config{
		capacity:      DefaultCapacity,
		defaultTTL:    DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		policy:        eviction.LRU,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.capacity <= 0 {
		cfg.capacity = DefaultCapacity
	}

	c := &BoundedCache[T]{
		entries:       make(map[string]*types.CacheEntry[T], cfg.capacity),
		eviction:      eviction.New(cfg.policy),
		engine:        engine.NewCacheEngine(cfg.defaultTTL, cfg.engineOpts...),
		capacity:      cfg.capacity,
		sweepInterval: cfg.sweepInterval,
		policyType:    cfg.policy,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	if c.sweepInterval > 0 {
		go c.sweepLoop()
	} else {
		close(c.done)
	}
	return c
}

/*
Set stores value under key.

If the key is new and the cache is full, exactly one entry is evicted first.
Overwriting an existing key never evicts.
*/
func (c *BoundedCache[T]) Set(_ context.Context, key string, value T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		if victim := c.eviction.Victim(); victim != "" {
			delete(c.entries, victim)
			c.engine.Metrics.Eviction()
			c.engine.Log.Debug().Str("key", victim).Msg("evicted")
		}
	}

	ent := &types.CacheEntry[T]{Key: key, Value: value}
	c.engine.OnWrite(&ent.Meta, ttl)
	c.entries[key] = ent
	c.eviction.Insert(key)
}

/*
Get retrieves a live value.

- Expired entry: removed, reported as a miss
- Live entry: access count and last-access time updated, value returned
*/
func (c *BoundedCache[T]) Get(_ context.Context, key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	ent, ok := c.entries[key]
	if !ok {
		c.engine.Metrics.Miss()
		return zero, false
	}
	if c.engine.IsExpired(&ent.Meta) {
		c.removeLocked(key)
		c.engine.Metrics.Expire()
		c.engine.Metrics.Miss()
		return zero, false
	}

	c.engine.OnRead(&ent.Meta)
	c.eviction.Touch(key)
	return ent.Value, true
}

// Has reports whether a live entry exists. It does not count as an access.
func (c *BoundedCache[T]) Has(_ context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.engine.IsExpired(&ent.Meta) {
		c.removeLocked(key)
		c.engine.Metrics.Expire()
		return false
	}
	return true
}

// Delete removes key and reports whether it was present.
func (c *BoundedCache[T]) Delete(_ context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	c.removeLocked(key)
	return true
}

// Clear removes every entry.
func (c *BoundedCache[T]) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*types.CacheEntry[T], c.capacity)
	c.eviction = eviction.New(c.policyType)
}

// Len returns the number of stored entries, expired or not.
func (c *BoundedCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes every expired entry in one pass and returns how many it removed.
func (c *BoundedCache[T]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, ent := range c.entries {
		if c.engine.IsExpired(&ent.Meta) {
			c.removeLocked(key)
			c.engine.Metrics.Expire()
			removed++
		}
	}
	return removed
}

// Stats describes the cache contents at one instant.
type Stats struct {
	Size           int
	Capacity       int
	AvgAccessCount float64

	// Expired counts entries past their TTL that neither a read nor the sweep removed yet.
	Expired int

	// Oldest and Newest are the smallest and largest CreatedAt. Zero when empty.
	Oldest time.Time
	Newest time.Time
}

// Stats computes Stats. It has no side effects: expired entries are counted, not removed.
func (c *BoundedCache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Size: len(c.entries), Capacity: c.capacity}
	var total int64
	for _, ent := range c.entries {
		total += ent.AccessCount
		if c.engine.IsExpired(&ent.Meta) {
			s.Expired++
		}
		if s.Oldest.IsZero() || ent.CreatedAt.Before(s.Oldest) {
			s.Oldest = ent.CreatedAt
		}
		if ent.CreatedAt.After(s.Newest) {
			s.Newest = ent.CreatedAt
		}
	}
	if s.Size > 0 {
		s.AvgAccessCount = float64(total) / float64(s.Size)
	}
	return s
}

/*
Close stops the background sweep. The stored entries stay readable.
Calling Close more than once is safe.
*/
func (c *BoundedCache[T]) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *BoundedCache[T]) removeLocked(key string) {
	delete(c.entries, key)
	c.eviction.Remove(key)
}

func (c *BoundedCache[T]) sweepLoop() {
	defer close(c.done)

	ticker := c.engine.Clock.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.Chan():
			if n := c.Sweep(); n > 0 {
				c.engine.Log.Debug().Int("removed", n).Msg("swept expired entries")
			}
		}
	}
}
