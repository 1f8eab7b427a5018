// Package durable is the long-horizon cache tier: a store.Store namespace fronted by
// an in-memory mirror, for data that stays fresh for hours or days and should survive
// a restart.
package durable

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/atomic"

	"github.com/krisalay/offline-cache/codec"
	"github.com/krisalay/offline-cache/engine"
	"github.com/krisalay/offline-cache/store"
	"github.com/krisalay/offline-cache/writepolicy"
)

// DefaultTTL is the TTL applied when Set is called without one.
const DefaultTTL = 24 * time.Hour

// persisted is what goes to the store. Expiry is not precomputed: validity is
// recomputed from CreatedAt and TTL on every read.
type persisted struct {
	Data      []byte `msgpack:"d"`
	CreatedAt int64  `msgpack:"c"` // unix millis
	TTL       int64  `msgpack:"t"` // millis
}

type entry[T any] struct {
	value     T
	createdAt time.Time
	ttl       time.Duration
}

// valid reports now - createdAt < ttl.
func (e *entry[T]) valid(now time.Time) bool {
	return now.Sub(e.createdAt) < e.ttl
}

/*
Cache is the durable tier. It satisfies api.Cache[T].

Every persistence failure is logged and swallowed: the cache keeps serving from its
mirror and Degraded reports true. Callers never see storage errors.
*/
type Cache[T any] struct {
	mu     sync.Mutex
	mirror map[string]*entry[T]

	st       store.Store
	codec    codec.Codec[T]
	writer   writepolicy.WritePolicy
	engine   *engine.CacheEngine
	ttl      time.Duration
	degraded atomic.Bool

	cleanupOnce sync.Once
	stop        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
}

// Option configures a Cache.
type Option func(*config)

type config struct {
	ttl        time.Duration
	writeBack  int
	engineOpts []engine.Option
	codec      any
}

// WithDefaultTTL sets the TTL used when Set gets ttl <= 0.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

// WithWriteBack persists asynchronously through a queue of the given size.
// The default is write-through.
func WithWriteBack(buffer int) Option {
	return func(c *config) { c.writeBack = buffer }
}

// WithEngineOptions passes clock, metrics and logger options to the engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(c *config) { c.engineOpts = append(c.engineOpts, opts...) }
}

// WithCodec replaces the value codec. It must be a codec.Codec of the cache's type.
func WithCodec[T any](cd codec.Codec[T]) Option {
	return func(c *config) { c.codec = cd }
}

/*
Open creates the cache over st and loads every persisted entry that has not expired
into the mirror. A store that cannot be read leaves the cache empty and degraded.
*/
func Open[T any](ctx context.Context, st store.Store, opts ...Option) *Cache[T] {
	cfg := config{ttl: DefaultTTL}
	for _, o := range opts {
		o(&cfg)
	}

	c := &Cache[T]{
		mirror: make(map[string]*entry[T]),
		st:     st,
		codec:  codec.Msgpack[T]{},
		engine: engine.NewCacheEngine(cfg.ttl, cfg.engineOpts...),
		ttl:    cfg.ttl,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cd, ok := cfg.codec.(codec.Codec[T]); ok {
		c.codec = cd
	}
	if cfg.writeBack > 0 {
		c.writer = writepolicy.NewWriteBackPolicy(st, cfg.writeBack, c.engine.Log, c.storeFailed)
	} else {
		c.writer = writepolicy.NewWriteThroughPolicy(st, c.engine.Log, c.storeFailed)
	}

	c.load(ctx)
	return c
}

func (c *Cache[T]) load(ctx context.Context) {
	recs, err := c.st.GetAll(ctx)
	if err != nil {
		c.storeFailed("load", "", err)
		return
	}
	now := c.engine.Now()
	loaded, skipped := 0, 0
	for _, rec := range recs {
		ent, err := c.decode(rec.Value)
		if err != nil || !ent.valid(now) {
			skipped++
			continue
		}
		c.mirror[rec.Key] = ent
		loaded++
	}
	c.engine.Log.Debug().Int("loaded", loaded).Int("skipped", skipped).Msg("durable cache loaded")
}

// Set writes the mirror, then hands the change to the write policy.
func (c *Cache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	ent := &entry[T]{value: value, createdAt: c.engine.Now(), ttl: ttl}

	c.mu.Lock()
	c.mirror[key] = ent
	c.mu.Unlock()

	raw, err := c.encode(ent)
	if err != nil {
		c.engine.Log.Warn().Err(err).Str("key", key).Msg("durable cache encode failed, kept in memory only")
		return
	}
	c.writer.OnWrite(ctx, store.Record{Key: key, Value: raw})
}

/*
Get checks the mirror, then the store. A valid stored entry is promoted back into
the mirror; an expired one is treated as absent and deleted.
*/
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool) {
	ent, ok := c.lookup(ctx, key)
	if !ok {
		c.engine.Metrics.Miss()
		var zero T
		return zero, false
	}
	c.engine.Metrics.Hit()
	return ent.value, true
}

// Has reports whether a live entry exists in the mirror or the store.
func (c *Cache[T]) Has(ctx context.Context, key string) bool {
	_, ok := c.lookup(ctx, key)
	return ok
}

// Delete removes key from the mirror and the store and reports whether a live entry existed.
func (c *Cache[T]) Delete(ctx context.Context, key string) bool {
	existed := c.Has(ctx, key)

	c.mu.Lock()
	delete(c.mirror, key)
	c.mu.Unlock()

	c.writer.OnDelete(ctx, key)
	// A queued delete must land before the next store read could resurrect the key.
	c.writer.Flush()
	return existed
}

// Clear removes every entry from the mirror and the store.
func (c *Cache[T]) Clear(ctx context.Context) {
	c.mu.Lock()
	c.mirror = make(map[string]*entry[T])
	c.mu.Unlock()

	c.writer.Flush()
	recs, err := c.st.GetAll(ctx)
	if err != nil {
		c.storeFailed("clear", "", err)
		return
	}
	for _, rec := range recs {
		c.writer.OnDelete(ctx, rec.Key)
	}
	c.writer.Flush()
}

/*
Cleanup rewrites the persisted namespace so that only live entries remain, and drops
expired entries from the mirror. It returns how many persisted entries were removed.
*/
func (c *Cache[T]) Cleanup(ctx context.Context) int {
	now := c.engine.Now()

	c.mu.Lock()
	for k, ent := range c.mirror {
		if !ent.valid(now) {
			delete(c.mirror, k)
		}
	}
	c.mu.Unlock()

	c.writer.Flush()
	recs, err := c.st.GetAll(ctx)
	if err != nil {
		c.storeFailed("cleanup", "", err)
		return 0
	}
	removed := 0
	for _, rec := range recs {
		ent, err := c.decode(rec.Value)
		if err == nil && ent.valid(now) {
			continue
		}
		if c.dropStale(ctx, rec.Key, now) {
			removed++
		}
	}
	c.engine.Log.Debug().Int("removed", removed).Msg("durable cache cleanup")
	return removed
}

// dropStale deletes a stored record read as stale, unless a live entry was set for key
// since. The mirror lock is held until the delete lands so a concurrent Set waits.
func (c *Cache[T]) dropStale(ctx context.Context, key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent, ok := c.mirror[key]; ok && ent.valid(now) {
		return false
	}
	if err := c.st.Delete(ctx, key); err != nil {
		c.storeFailed("cleanup", key, err)
		return false
	}
	c.engine.Metrics.Expire()
	return true
}

// StartCleanup runs Cleanup every interval until Close. Only the first call has an effect.
func (c *Cache[T]) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.cleanupOnce.Do(func() {
		go c.cleanupLoop(interval)
	})
}

func (c *Cache[T]) cleanupLoop(interval time.Duration) {
	defer close(c.done)

	ticker := c.engine.Clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.Chan():
			c.Cleanup(context.Background())
		}
	}
}

// Len returns the number of entries in the mirror.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mirror)
}

// Degraded reports whether any persistence operation has failed.
func (c *Cache[T]) Degraded() bool {
	return c.degraded.Load()
}

// Flush waits until every accepted change has reached the store.
func (c *Cache[T]) Flush() {
	c.writer.Flush()
}

// Close stops the cleanup loop and flushes pending writes. The store is not closed.
func (c *Cache[T]) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		// No loop was started: nothing will close done.
		c.cleanupOnce.Do(func() { close(c.done) })
		<-c.done
		c.writer.Close()
	})
}

func (c *Cache[T]) lookup(ctx context.Context, key string) (*entry[T], bool) {
	now := c.engine.Now()

	c.mu.Lock()
	if ent, ok := c.mirror[key]; ok {
		if ent.valid(now) {
			c.mu.Unlock()
			return ent, true
		}
		delete(c.mirror, key)
	}
	c.mu.Unlock()

	rec, err := c.st.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		c.storeFailed("get", key, err)
		return nil, false
	}
	ent, err := c.decode(rec.Value)
	if err != nil {
		c.engine.Log.Warn().Err(err).Str("key", key).Msg("durable cache entry unreadable, dropping")
		c.writer.OnDelete(ctx, key)
		return nil, false
	}
	if !ent.valid(now) {
		c.engine.Metrics.Expire()
		c.writer.OnDelete(ctx, key)
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.mirror[key]; ok && cur.valid(now) {
		// A concurrent Set won; it is newer than what we read.
		return cur, true
	}
	c.mirror[key] = ent
	return ent, true
}

func (c *Cache[T]) encode(ent *entry[T]) ([]byte, error) {
	data, err := c.codec.Encode(ent.value)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(persisted{
		Data:      data,
		CreatedAt: ent.createdAt.UnixMilli(),
		TTL:       ent.ttl.Milliseconds(),
	})
}

func (c *Cache[T]) decode(raw []byte) (*entry[T], error) {
	var p persisted
	if err := msgpack.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	v, err := c.codec.Decode(p.Data)
	if err != nil {
		return nil, err
	}
	return &entry[T]{
		value:     v,
		createdAt: time.UnixMilli(p.CreatedAt),
		ttl:       time.Duration(p.TTL) * time.Millisecond,
	}, nil
}

func (c *Cache[T]) storeFailed(op, key string, err error) {
	if !c.degraded.Swap(true) {
		c.engine.Log.Warn().Err(err).Str("op", op).Str("key", key).Msg("durable store unavailable, continuing in memory")
		return
	}
	c.engine.Log.Debug().Err(err).Str("op", op).Str("key", key).Msg("durable store still failing")
}
