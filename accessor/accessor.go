// Package accessor is the read-through layer consumers talk to: one Accessor per key,
// backed by a shared cache tier and a shared coordinator.
package accessor

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/krisalay/offline-cache/api"
	"github.com/krisalay/offline-cache/coordinator"
	"github.com/krisalay/offline-cache/durable"
	"github.com/krisalay/offline-cache/policy"
	"github.com/krisalay/offline-cache/refresh"
	"github.com/krisalay/offline-cache/types"
)

// maxRejoins bounds how often a fetch retries after joining an operation that another
// accessor cancelled.
const maxRejoins = 3

// State is a snapshot of what an accessor shows.
type State[T any] struct {
	Data    T
	HasData bool

	// Loading is set while fetching with nothing to show yet.
	Loading bool

	// Updating is set while fetching with previous data still visible.
	Updating bool

	// Err is the last genuine fetch failure. Cancellations never land here.
	Err error

	UpdatedAt time.Time
}

// Option configures an Accessor.
type Option func(*config)

type config struct {
	source          string
	table           *policy.Table
	policy          *policy.Policy
	fallback        policy.Policy
	refreshInterval time.Duration
	clock           clockwork.Clock
	log             zerolog.Logger
	metrics         types.Metrics
	onChange        any
	focus           *refresh.Focus
}

// WithSource sets the logical source used for policy resolution. Defaults to the key.
func WithSource(source string) Option {
	return func(c *config) { c.source = source }
}

// WithPolicyTable resolves the policy from table by source.
func WithPolicyTable(t *policy.Table) Option {
	return func(c *config) { c.table = t }
}

// WithPolicy pins the policy, bypassing any table.
func WithPolicy(p policy.Policy) Option {
	return func(c *config) { c.policy = &p }
}

// WithRefreshInterval overrides the policy's refresh interval for StartAutoRefresh.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *config) { c.refreshInterval = d }
}

// WithClock sets the clock used for timestamps and auto refresh.
func WithClock(clock clockwork.Clock) Option {
	return func(c *config) { c.clock = clock }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithMetrics reports every timer or focus triggered refresh to m.
func WithMetrics(m types.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithFocus revalidates whenever f is notified.
func WithFocus(f *refresh.Focus) Option {
	return func(c *config) { c.focus = f }
}

// WithOnChange registers a callback receiving every new State snapshot. A callback
// whose T differs from the accessor's is logged and ignored.
func WithOnChange[T any](fn func(key string, s State[T])) Option {
	return func(c *config) { c.onChange = fn }
}

/*
Accessor serves one key.

Several accessors for the same key share the cache entry and, through the coordinator,
the in-flight fetch. Each accessor keeps its own State and cancels its own previous
fetch when a new one starts.
*/
type Accessor[T any] struct {
	key     string
	cache   api.Cache[T]
	coord   *coordinator.Coordinator[T]
	fetcher types.Fetcher[T]
	cfg     config

	onChange func(key string, s State[T])

	// base is cancelled on Close and parents every fetch started by timers or focus.
	base       context.Context
	baseCancel context.CancelFunc
	background sync.WaitGroup

	mu          sync.Mutex
	state       State[T]
	cancel      context.CancelFunc
	gen         uint64
	epoch       uint64 // bumped by Invalidate; fetches from an older epoch never write the cache
	ticker      *refresh.Ticker
	unsubscribe func()
	closed      bool
}

// New creates an accessor for key over any cache tier. Unresolved sources get the
// Dynamic policy.
func New[T any](key string, cache api.Cache[T], coord *coordinator.Coordinator[T], fetcher types.Fetcher[T], opts ...Option) *Accessor[T] {
	return newAccessor(key, cache, coord, fetcher, policy.Dynamic, opts)
}

// NewDurable creates an accessor over the durable tier. Without a table or a pinned
// policy it uses LongLived.
func NewDurable[T any](key string, cache *durable.Cache[T], coord *coordinator.Coordinator[T], fetcher types.Fetcher[T], opts ...Option) *Accessor[T] {
	return newAccessor[T](key, cache, coord, fetcher, policy.LongLived, opts)
}

func newAccessor[T any](key string, cache api.Cache[T], coord *coordinator.Coordinator[T], fetcher types.Fetcher[T], fallback policy.Policy, opts []Option) *Accessor[T] {
	cfg := config{
		source:   key,
		fallback: fallback,
		clock:    clockwork.NewRealClock(),
		log:      zerolog.Nop(),
		metrics:  types.NoopMetrics{},
	}
	for _, o := range opts {
		o(&cfg)
	}

	a := &Accessor[T]{
		key:     key,
		cache:   cache,
		coord:   coord,
		fetcher: fetcher,
		cfg:     cfg,
	}
	a.base, a.baseCancel = context.WithCancel(context.Background())

	if cfg.onChange != nil {
		fn, ok := cfg.onChange.(func(string, State[T]))
		if !ok {
			cfg.log.Error().Str("key", key).Msgf("ignoring OnChange callback of type %T", cfg.onChange)
		}
		a.onChange = fn
	}

	if cfg.focus != nil {
		a.unsubscribe = cfg.focus.Subscribe(a.revalidate)
	}
	return a
}

// Key returns the cache key served by the accessor.
func (a *Accessor[T]) Key() string {
	return a.key
}

// Policy returns the policy in effect: pinned, else resolved from the table, else the default.
func (a *Accessor[T]) Policy() policy.Policy {
	if a.cfg.policy != nil {
		return *a.cfg.policy
	}
	if a.cfg.table != nil {
		return a.cfg.table.Resolve(a.cfg.source)
	}
	return a.cfg.fallback
}

// State returns the current snapshot.
func (a *Accessor[T]) State() State[T] {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

/*
Fetch returns the value for the accessor's key.

Without force a live cache entry is returned with no I/O. Otherwise the fetcher runs
through the coordinator, the cache is written with the policy TTL, and the state moves
through Loading (nothing shown yet) or Updating (previous data stays visible).

- A cancelled fetch is not an error: it returns the cached value, else the data already
  shown, else ok=false with a nil error. The cache and the error state are untouched.
- A failed fetch sets the error state, keeps the previous data and returns the error.
*/
func (a *Accessor[T]) Fetch(ctx context.Context, force bool) (T, bool, error) {
	if !force {
		if v, ok := a.cache.Get(ctx, a.key); ok {
			a.update(func(s *State[T]) {
				s.Data, s.HasData = v, true
				if s.UpdatedAt.IsZero() {
					s.UpdatedAt = a.cfg.clock.Now()
				}
			})
			return v, true, nil
		}
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return a.fallback(ctx)
	}
	if a.cancel != nil {
		a.cancel()
	}
	fctx, cancel := context.WithCancel(ctx)
	a.gen++
	gen := a.gen
	a.cancel = cancel
	epoch := a.epoch
	if a.state.HasData {
		a.state.Updating = true
	} else {
		a.state.Loading = true
	}
	snapshot := a.state
	a.mu.Unlock()
	a.notify(snapshot)

	defer func() {
		cancel()
		a.mu.Lock()
		if a.gen == gen {
			a.cancel = nil
		}
		a.mu.Unlock()
	}()

	ttl := a.Policy().TTL
	op := func(opCtx context.Context) (T, error) {
		v, err := a.fetcher(opCtx)
		if err != nil {
			return v, err
		}
		// Results that arrive after cancellation are dropped, never cached.
		if err := opCtx.Err(); err != nil {
			return v, err
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.epoch != epoch {
			return v, context.Canceled
		}
		a.cache.Set(context.WithoutCancel(opCtx), a.key, v, ttl)
		return v, nil
	}

	var (
		v   T
		err error
	)
	for attempt := 0; attempt < maxRejoins; attempt++ {
		v, _, err = a.coord.Run(fctx, a.key, op)
		// Joined an operation that its own leader cancelled: our context is still
		// live, so start over.
		if !coordinator.IsCancellation(err) || fctx.Err() != nil {
			break
		}
	}

	switch {
	case err == nil:
		a.finish(gen, func(s *State[T]) {
			s.Data, s.HasData = v, true
			s.Err = nil
			s.UpdatedAt = a.cfg.clock.Now()
		})
		return v, true, nil

	case coordinator.IsCancellation(err):
		a.finish(gen, func(*State[T]) {})
		a.cfg.log.Debug().Str("key", a.key).Msg("fetch cancelled")
		return a.fallback(ctx)

	default:
		a.finish(gen, func(s *State[T]) { s.Err = err })
		a.cfg.log.Warn().Err(err).Str("key", a.key).Msg("fetch failed")
		s := a.State()
		return s.Data, s.HasData, err
	}
}

// Invalidate cancels the in-flight fetch, deletes the cache entry and resets the state.
func (a *Accessor[T]) Invalidate(ctx context.Context) {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.gen++
	a.epoch++
	a.state = State[T]{}
	snapshot := a.state
	a.mu.Unlock()

	a.cache.Delete(ctx, a.key)
	a.notify(snapshot)
}

/*
StartAutoRefresh forces a fetch every refresh interval (the option, else the policy's).
It reports false, and starts nothing, when the interval is not positive or the accessor
is closed. Calling it again restarts the timer.
*/
func (a *Accessor[T]) StartAutoRefresh() bool {
	interval := a.cfg.refreshInterval
	if interval <= 0 {
		interval = a.Policy().RefreshInterval
	}
	if interval <= 0 {
		return false
	}

	// The old ticker is stopped outside the lock: Stop waits for a running refresh,
	// which itself takes the lock.
	a.StopAutoRefresh()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.ticker != nil {
		return !a.closed
	}
	a.ticker = refresh.NewTicker(a.cfg.clock, interval, a.refreshNow)
	return true
}

// StopAutoRefresh stops the timer started by StartAutoRefresh.
func (a *Accessor[T]) StopAutoRefresh() {
	a.mu.Lock()
	tk := a.ticker
	a.ticker = nil
	a.mu.Unlock()

	if tk != nil {
		tk.Stop()
	}
}

/*
Close tears the accessor down: the in-flight fetch is cancelled, timers stop and the
focus subscription is dropped. The cache entry stays. Safe to call twice.
*/
func (a *Accessor[T]) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	if a.cancel != nil {
		a.cancel()
	}
	unsubscribe := a.unsubscribe
	a.mu.Unlock()

	a.baseCancel()
	if unsubscribe != nil {
		unsubscribe()
	}
	a.StopAutoRefresh()
	a.background.Wait()
}

// revalidate is the focus callback. It must not block the notifier.
func (a *Accessor[T]) revalidate() {
	a.mu.Lock()
	closed := a.closed
	if !closed {
		a.background.Add(1)
	}
	a.mu.Unlock()
	if closed {
		return
	}

	go func() {
		defer a.background.Done()
		a.refreshNow()
	}()
}

func (a *Accessor[T]) refreshNow() {
	a.cfg.metrics.Refresh()
	if _, _, err := a.Fetch(a.base, true); err != nil {
		a.cfg.log.Warn().Err(err).Str("key", a.key).Msg("background refresh failed")
	}
}

func (a *Accessor[T]) fallback(ctx context.Context) (T, bool, error) {
	if v, ok := a.cache.Get(context.WithoutCancel(ctx), a.key); ok {
		return v, true, nil
	}
	s := a.State()
	return s.Data, s.HasData, nil
}

// finish clears the in-progress flags and applies fn, unless a newer fetch or an
// invalidation has taken over the state.
func (a *Accessor[T]) finish(gen uint64, fn func(*State[T])) {
	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		return
	}
	a.state.Loading, a.state.Updating = false, false
	fn(&a.state)
	snapshot := a.state
	a.mu.Unlock()
	a.notify(snapshot)
}

func (a *Accessor[T]) update(fn func(*State[T])) {
	a.mu.Lock()
	fn(&a.state)
	snapshot := a.state
	a.mu.Unlock()
	a.notify(snapshot)
}

func (a *Accessor[T]) notify(s State[T]) {
	if a.onChange != nil {
		a.onChange(a.key, s)
	}
}
