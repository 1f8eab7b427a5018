package engine

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/krisalay/offline-cache/expiration"
	"github.com/krisalay/offline-cache/types"
)

/*
CacheEngine is the "brain" shared by the cache tiers.
It is responsible for the behavior of a cache, NOT storage.

It decides:
- What time it is (so tests can drive expiry with a fake clock)
- When an entry is expired
- How metadata changes on reads and writes
- How metrics and logs are reported

It does NOT:
- Store data
- Handle locking
- Decide eviction order
- Talk to durable storage
*/
type CacheEngine struct {

	// Expiration controls when an entry is considered too old.
	// Defaults to a fixed TTL measured from the write.
	Expiration expiration.Strategy

	// Clock is the time source. Real wall clock unless a test swaps it.
	Clock clockwork.Clock

	// Metrics records hits, misses, evictions, expirations and refreshes.
	Metrics types.Metrics

	// Log receives diagnostics. Caches never surface these to callers.
	Log zerolog.Logger
}

// Option configures a CacheEngine.
type Option func(*CacheEngine)

// WithExpiration replaces the expiration strategy.
func WithExpiration(s expiration.Strategy) Option {
	return func(e *CacheEngine) { e.Expiration = s }
}

// WithClock replaces the time source.
func WithClock(c clockwork.Clock) Option {
	return func(e *CacheEngine) { e.Clock = c }
}

// WithMetrics replaces the metrics sink.
func WithMetrics(m types.Metrics) Option {
	return func(e *CacheEngine) { e.Metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *CacheEngine) { e.Log = l }
}

/*
NewCacheEngine creates a CacheEngine with defaultTTL as the TTL used when a writer
does not pass one. Every field ends up non-nil so callers never nil-check.
*/
func NewCacheEngine(defaultTTL time.Duration, opts ...Option) *CacheEngine {
	e := &CacheEngine{
		Expiration: &expiration.ExpireAfterWrite{TTL: defaultTTL},
		Clock:      clockwork.NewRealClock(),
		Metrics:    types.NoopMetrics{},
		Log:        zerolog.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.Metrics == nil {
		e.Metrics = types.NoopMetrics{}
	}
	if e.Clock == nil {
		e.Clock = clockwork.NewRealClock()
	}
	return e
}

// Now returns the engine's current time.
func (e *CacheEngine) Now() time.Time {
	return e.Clock.Now()
}

// IsExpired checks whether m is expired right now.
func (e *CacheEngine) IsExpired(m *types.Meta) bool {
	return e.Expiration.IsExpired(m, e.Clock.Now())
}

/*
OnRead is called every time the cache returns a live value.
Strategies update access time and counters here; sliding TTL also moves expiry.
*/
func (e *CacheEngine) OnRead(m *types.Meta) {
	e.Expiration.OnAccess(m, e.Clock.Now())
	e.Metrics.Hit()
}

// OnWrite stamps m for a fresh write with an explicit ttl (zero => default).
func (e *CacheEngine) OnWrite(m *types.Meta, ttl time.Duration) {
	e.Expiration.OnWrite(m, e.Clock.Now(), ttl)
}
