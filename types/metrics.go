package types

import "go.uber.org/atomic"

// This file defines how the caches report what they are doing.

/*
Metrics is an interface that defines what the cache wants to measure.
Each method represents an event in the cache lifecycle. The cache will call these methods whenever something happens.
*/
type Metrics interface {

	// Hit is called when the cache successfully returns a value.
	Hit()

	// Miss is called when the cache does NOT find a usable value.
	Miss()

	// Eviction is called when a key is removed because the cache is full and needs space.
	Eviction()

	// Expire is called when a key is removed because it has passed its TTL (time-based expiration).
	Expire()

	// Refresh is called when a scheduled or focus-triggered refresh runs.
	Refresh()
}

/*
NoopMetrics is a "do nothing" implementation of Metrics.

Components default to it so the rest of the code never has to check
whether metrics were configured.
*/
type NoopMetrics struct{}

func (NoopMetrics) Hit()      {}
func (NoopMetrics) Miss()     {}
func (NoopMetrics) Eviction() {}
func (NoopMetrics) Expire()   {}
func (NoopMetrics) Refresh()  {}

// Counters is a Metrics implementation that just counts events.
// It is safe for concurrent use.
type Counters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
	refreshes atomic.Int64
}

func (c *Counters) Hit()      { c.hits.Inc() }
func (c *Counters) Miss()     { c.misses.Inc() }
func (c *Counters) Eviction() { c.evictions.Inc() }
func (c *Counters) Expire()   { c.expired.Inc() }
func (c *Counters) Refresh()  { c.refreshes.Inc() }

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Expired   int64
	Refreshes int64
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
		Refreshes: c.refreshes.Load(),
	}
}
