/*
Package offline gives entity reads and writes one contract whether or not the remote
is reachable.

Reads go to the remote first and mirror what they get into a local RecordStore; when
the remote fails they are answered from the mirror with the same filters applied
client-side. Writes made while offline are committed to the mirror and appended to a
SyncQueue (normally the durable Outbox) for a separate drain engine to replay.
*/
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/krisalay/offline-cache/coordinator"
)

// LocalIDPrefix starts every id assigned by an offline create.
const LocalIDPrefix = "local-"

// maxRejoins bounds how often a read retries after joining a remote call that its
// leader cancelled.
const maxRejoins = 3

// NewLocalID returns local-<unix millis>-<random>.
func NewLocalID(now time.Time) string {
	return fmt.Sprintf("%s%d-%s", LocalIDPrefix, now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// IsLocalID reports whether id was assigned offline and is unknown to the remote.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Remote is the authoritative backend for one entity kind.
type Remote[E Entity] interface {
	List(ctx context.Context, q Query) (Page[E], error)
	Get(ctx context.Context, id string) (E, error)
	ByCategory(ctx context.Context, category string, q Query) (Page[E], error)
	Create(ctx context.Context, e E) (E, error)
	Update(ctx context.Context, id string, e E) (E, error)
	Delete(ctx context.Context, id string) error
}

// Option configures a Repository.
type Option func(*config)

type config struct {
	conn         Connectivity
	forceOffline bool
	clock        clockwork.Clock
	log          zerolog.Logger
}

// WithConnectivity sets the connectivity source. The default is always online.
func WithConnectivity(c Connectivity) Option {
	return func(cfg *config) { cfg.conn = c }
}

// ForceOffline makes every operation take the offline path.
func ForceOffline() Option {
	return func(cfg *config) { cfg.forceOffline = true }
}

// WithClock sets the clock used for timestamps and local ids.
func WithClock(c clockwork.Clock) Option {
	return func(cfg *config) { cfg.clock = c }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(cfg *config) { cfg.log = l }
}

/*
Repository is the offline-aware access point for one entity kind.

Concurrent identical reads share one remote call. A reader whose shared call was
cancelled by another caller retries, then falls back to the mirror; it only sees a
cancellation when its own context is done.

Writes are serialized. Deciding between the remote and the queue, applying the change
and enqueueing its SyncOperation happen as one step, so a write never overtakes a
queued one for the same entity.
*/
type Repository[E Entity] struct {
	kind   string
	remote Remote[E]
	local  *RecordStore[E]
	queue  SyncQueue

	conn         Connectivity
	forceOffline atomic.Bool
	clock        clockwork.Clock
	log          zerolog.Logger

	pages *coordinator.Coordinator[Page[E]]
	items *coordinator.Coordinator[E]

	writeMu sync.Mutex
}

// New creates a repository for entities of kind.
func New[E Entity](kind string, remote Remote[E], local *RecordStore[E], queue SyncQueue, opts ...Option) *Repository[E] {
	cfg := config{
		conn:  alwaysOnline{},
		clock: clockwork.NewRealClock(),
		log:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	r := &Repository[E]{
		kind:   kind,
		remote: remote,
		local:  local,
		queue:  queue,
		conn:   cfg.conn,
		clock:  cfg.clock,
		log:    cfg.log.With().Str("kind", kind).Logger(),
		pages:  coordinator.New[Page[E]](),
		items:  coordinator.New[E](),
	}
	r.forceOffline.Store(cfg.forceOffline)
	return r
}

// SetForceOffline switches forced offline mode at runtime.
func (r *Repository[E]) SetForceOffline(on bool) {
	r.forceOffline.Store(on)
}

// Offline reports whether operations currently skip the remote.
func (r *Repository[E]) Offline() bool {
	return r.forceOffline.Load() || !r.conn.Online()
}

// List returns one page of entities matching q.
func (r *Repository[E]) List(ctx context.Context, q Query) (Page[E], error) {
	return r.readPage(ctx, "list?"+q.Key(), q,
		func(ctx context.Context) (Page[E], error) { return r.remote.List(ctx, q) },
		r.local.All,
	)
}

// ByCategory returns one page of entities in category. q.Category is overridden.
func (r *Repository[E]) ByCategory(ctx context.Context, category string, q Query) (Page[E], error) {
	q.Category = category
	return r.readPage(ctx, "category?"+q.Key(), q,
		func(ctx context.Context) (Page[E], error) { return r.remote.ByCategory(ctx, category, q) },
		func(ctx context.Context) ([]E, error) { return r.local.ByIndex(ctx, IndexCategory, category) },
	)
}

// Get returns one entity by id.
func (r *Repository[E]) Get(ctx context.Context, id string) (E, error) {
	if r.Offline() || IsLocalID(id) {
		e, err := r.local.Get(ctx, id)
		if err != nil && !IsLocalID(id) {
			return e, fmt.Errorf("get %s %s: %w: %w", r.kind, id, ErrUnavailable, err)
		}
		return e, err
	}

	e, err := rejoin(ctx, r.items, "get/"+id, func(opCtx context.Context) (E, error) {
		e, err := r.remote.Get(opCtx, id)
		if err == nil {
			r.mirror(opCtx, e)
		}
		return e, err
	})
	if err == nil || (coordinator.IsCancellation(err) && ctx.Err() != nil) {
		return e, err
	}

	r.log.Warn().Err(err).Str("id", id).Msg("remote get failed, reading local mirror")
	local, lerr := r.local.Get(ctx, id)
	if lerr != nil {
		var zero E
		return zero, fmt.Errorf("get %s %s (local fallback: %v): %w", r.kind, id, lerr, err)
	}
	return local, nil
}

func (r *Repository[E]) readPage(
	ctx context.Context,
	key string,
	q Query,
	remote func(context.Context) (Page[E], error),
	load func(context.Context) ([]E, error),
) (Page[E], error) {
	if r.Offline() {
		page, err := r.localPage(ctx, q, load)
		if err != nil {
			return Page[E]{}, fmt.Errorf("%s: %w: %w", r.kind, ErrUnavailable, err)
		}
		return page, nil
	}

	page, err := rejoin(ctx, r.pages, key, func(opCtx context.Context) (Page[E], error) {
		page, err := remote(opCtx)
		if err == nil {
			r.mirror(opCtx, page.Items...)
		}
		return page, err
	})
	if err == nil || (coordinator.IsCancellation(err) && ctx.Err() != nil) {
		return page, err
	}

	r.log.Warn().Err(err).Str("query", key).Msg("remote read failed, serving local mirror")
	local, lerr := r.localPage(ctx, q, load)
	if lerr != nil {
		return Page[E]{}, fmt.Errorf("%s (local fallback: %v): %w", r.kind, lerr, err)
	}
	return local, nil
}

// rejoin runs op through coord, starting over while the only failure is a cancellation
// that came from another caller. A cancellation still left after maxRejoins is returned
// with ctx live, and the caller treats it like any other remote failure.
func rejoin[T any](ctx context.Context, coord *coordinator.Coordinator[T], key string, op coordinator.Op[T]) (T, error) {
	var (
		v   T
		err error
	)
	for attempt := 0; attempt < maxRejoins; attempt++ {
		v, _, err = coord.Run(ctx, key, op)
		if !coordinator.IsCancellation(err) || ctx.Err() != nil {
			break
		}
	}
	return v, err
}

// localPage answers q from the mirror. An empty mirror cannot answer anything.
func (r *Repository[E]) localPage(ctx context.Context, q Query, load func(context.Context) ([]E, error)) (Page[E], error) {
	items, err := load(ctx)
	if err != nil {
		return Page[E]{}, err
	}
	if len(items) == 0 {
		n, err := r.local.Len(ctx)
		if err != nil {
			return Page[E]{}, err
		}
		if n == 0 {
			return Page[E]{}, errNothingMirrored
		}
	}
	return Apply(items, q), nil
}

// mirror upserts remote results. Failures only cost offline coverage, so they are logged.
func (r *Repository[E]) mirror(ctx context.Context, items ...E) {
	ctx = context.WithoutCancel(ctx)
	for _, e := range items {
		if err := r.local.Put(ctx, e); err != nil {
			r.log.Warn().Err(err).Str("id", e.EntityID()).Msg("failed to mirror record")
		}
	}
}

/*
Create stores e remotely, or locally with a new local id when offline. A remote failure
of network class also falls back to a local commit; any other remote error is returned.
*/
func (r *Repository[E]) Create(ctx context.Context, e E) (E, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if !r.Offline() {
		created, err := r.remote.Create(ctx, e)
		if err == nil {
			r.mirror(ctx, created)
			return created, nil
		}
		if !IsNetworkError(err) {
			return created, err
		}
		r.log.Info().Err(err).Msg("remote unreachable, committing create locally")
	}

	now := r.clock.Now()
	e.SetEntityID(NewLocalID(now))
	e.Stamp(now, now)
	if err := r.local.Put(ctx, e); err != nil {
		var zero E
		return zero, fmt.Errorf("commit %s locally: %w", r.kind, err)
	}
	if err := r.enqueue(ctx, OpCreate, e.EntityID(), e); err != nil {
		if derr := r.local.Delete(ctx, e.EntityID()); derr != nil {
			r.log.Error().Err(derr).Str("id", e.EntityID()).Msg("failed to roll back local create")
		}
		var zero E
		return zero, err
	}
	r.log.Debug().Str("id", e.EntityID()).Msg("create queued for sync")
	return e, nil
}

/*
Update applies e to id. Entities with a local id, or with operations still queued, are
always updated offline so their queued operations stay in order.
*/
func (r *Repository[E]) Update(ctx context.Context, id string, e E) (E, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if !r.mustQueue(ctx, id) {
		updated, err := r.remote.Update(ctx, id, e)
		if err == nil {
			r.mirror(ctx, updated)
			return updated, nil
		}
		if !IsNetworkError(err) {
			return updated, err
		}
		r.log.Info().Err(err).Str("id", id).Msg("remote unreachable, committing update locally")
	}

	previous, prevErr := r.local.Get(ctx, id)

	e.SetEntityID(id)
	e.Stamp(time.Time{}, r.clock.Now())
	if err := r.local.Put(ctx, e); err != nil {
		var zero E
		return zero, fmt.Errorf("commit %s %s locally: %w", r.kind, id, err)
	}
	if err := r.enqueue(ctx, OpUpdate, id, e); err != nil {
		r.restore(ctx, id, previous, prevErr)
		var zero E
		return zero, err
	}
	return e, nil
}

// Delete removes id, remotely or, offline, from the mirror with a queued delete.
func (r *Repository[E]) Delete(ctx context.Context, id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if !r.mustQueue(ctx, id) {
		err := r.remote.Delete(ctx, id)
		if err == nil {
			if err := r.local.Delete(context.WithoutCancel(ctx), id); err != nil {
				r.log.Warn().Err(err).Str("id", id).Msg("failed to drop mirrored record")
			}
			return nil
		}
		if !IsNetworkError(err) {
			return err
		}
		r.log.Info().Err(err).Str("id", id).Msg("remote unreachable, committing delete locally")
	}

	previous, prevErr := r.local.Get(ctx, id)
	if err := r.local.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete %s %s locally: %w", r.kind, id, err)
	}
	if err := r.enqueue(ctx, OpDelete, id, nil); err != nil {
		r.restore(ctx, id, previous, prevErr)
		return err
	}
	return nil
}

// mustQueue reports whether a write to id has to go through the queue. Callers hold writeMu.
func (r *Repository[E]) mustQueue(ctx context.Context, id string) bool {
	if r.Offline() || IsLocalID(id) {
		return true
	}
	eq, ok := r.queue.(entityQueue)
	if !ok {
		return false
	}
	ops, err := eq.ForEntity(ctx, id)
	if err != nil {
		r.log.Warn().Err(err).Str("id", id).Msg("cannot inspect queue, writing offline")
		return true
	}
	return len(ops) > 0
}

func (r *Repository[E]) enqueue(ctx context.Context, typ OpType, id string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", typ, err)
		}
		raw = b
	}
	op := SyncOperation{
		Type:       typ,
		EntityKind: r.kind,
		LocalID:    id,
		Payload:    raw,
		EnqueuedAt: r.clock.Now(),
		Status:     StatusPending,
	}
	if err := r.queue.Enqueue(ctx, op); err != nil {
		return fmt.Errorf("queue %s %s %s: %w", typ, r.kind, id, err)
	}
	return nil
}

func (r *Repository[E]) restore(ctx context.Context, id string, previous E, prevErr error) {
	var err error
	switch {
	case prevErr == nil:
		err = r.local.Put(ctx, previous)
	case errors.Is(prevErr, ErrNotFound):
		err = r.local.Delete(ctx, id)
	default:
		err = prevErr
	}
	if err != nil {
		r.log.Error().Err(err).Str("id", id).Msg("failed to roll back local write")
	}
}
