package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/krisalay/offline-cache/store/memstore"
)

type item struct {
	ID        string
	Name      string
	Category  string
	Status    string
	Price     float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (i *item) EntityID() string      { return i.ID }
func (i *item) SetEntityID(id string) { i.ID = id }

func (i *item) Stamp(created, updated time.Time) {
	if !created.IsZero() {
		i.CreatedAt = created
	}
	i.UpdatedAt = updated
}

func (i *item) Attributes() Attributes {
	return Attributes{
		Category:  i.Category,
		Status:    i.Status,
		Text:      []string{i.Name},
		Numbers:   map[string]float64{"price": i.Price},
		UpdatedAt: i.UpdatedAt,
	}
}

// fakeRemote serves items from a map, or fails every call with err.
type fakeRemote struct {
	mu    sync.Mutex
	items map[string]*item
	next  int
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func newFakeRemote(items ...*item) *fakeRemote {
	r := &fakeRemote{items: make(map[string]*item)}
	for _, it := range items {
		r.items[it.ID] = it
	}
	return r
}

func (r *fakeRemote) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *fakeRemote) enter(ctx context.Context) error {
	r.calls.Inc()
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *fakeRemote) snapshot() []*item {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*item, 0, len(r.items))
	for _, it := range r.items {
		cp := *it
		out = append(out, &cp)
	}
	return out
}

func (r *fakeRemote) List(ctx context.Context, q Query) (Page[*item], error) {
	if err := r.enter(ctx); err != nil {
		return Page[*item]{}, err
	}
	p := Apply(r.snapshot(), q)
	p.FromLocal = false
	return p, nil
}

func (r *fakeRemote) ByCategory(ctx context.Context, category string, q Query) (Page[*item], error) {
	q.Category = category
	return r.List(ctx, q)
}

func (r *fakeRemote) Get(ctx context.Context, id string) (*item, error) {
	if err := r.enter(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("404: %s", id)
	}
	cp := *it
	return &cp, nil
}

func (r *fakeRemote) Create(ctx context.Context, e *item) (*item, error) {
	if err := r.enter(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	cp := *e
	cp.ID = fmt.Sprintf("srv-%d", r.next)
	r.items[cp.ID] = &cp
	return &cp, nil
}

func (r *fakeRemote) Update(ctx context.Context, id string, e *item) (*item, error) {
	if err := r.enter(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	cp.ID = id
	r.items[id] = &cp
	return &cp, nil
}

func (r *fakeRemote) Delete(ctx context.Context, id string) error {
	if err := r.enter(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

type fixture struct {
	remote *fakeRemote
	local  *RecordStore[*item]
	outbox *Outbox
	conn   *Switch
	clock  clockwork.FakeClock
	repo   *Repository[*item]
}

func newFixture(t *testing.T, items ...*item) *fixture {
	t.Helper()
	f := &fixture{
		remote: newFakeRemote(items...),
		local:  NewRecordStore[*item](memstore.New(), nil),
		conn:   NewSwitch(true),
		clock:  clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	var err error
	f.outbox, err = OpenOutbox(context.Background(), memstore.New(), WithOutboxClock(f.clock))
	require.NoError(t, err)
	f.repo = New[*item]("item", f.remote, f.local, f.outbox, WithConnectivity(f.conn), WithClock(f.clock))
	return f
}

func catalog() []*item {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return []*item{
		{ID: "1", Name: "Cordless Drill", Category: "tools", Status: "active", Price: 120, UpdatedAt: base.Add(1 * time.Hour)},
		{ID: "2", Name: "Hand Saw", Category: "tools", Status: "active", Price: 25, UpdatedAt: base.Add(2 * time.Hour)},
		{ID: "3", Name: "Drill Bits", Category: "accessories", Status: "active", Price: 15, UpdatedAt: base.Add(3 * time.Hour)},
		{ID: "4", Name: "Old Drill", Category: "tools", Status: "archived", Price: 60, UpdatedAt: base.Add(4 * time.Hour)},
	}
}

func ids(items []*item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestOnlineReadMirrorsRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog()...)

	page, err := f.repo.List(ctx, Query{})
	require.NoError(t, err)
	assert.False(t, page.FromLocal)
	assert.Equal(t, 4, page.Total)

	n, err := f.local.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestReadFallsBackToMirrorWithFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog()...)
	_, err := f.repo.List(ctx, Query{})
	require.NoError(t, err)

	f.remote.fail(fmt.Errorf("dial tcp: %w", ErrUnavailable))

	tests := []struct {
		name  string
		query Query
		want  []string
		total int
	}{
		{"all newest first", Query{}, []string{"4", "3", "2", "1"}, 4},
		{"search is case-insensitive", Query{Search: "drill"}, []string{"4", "3", "1"}, 3},
		{"category and status", Query{Category: "tools", Status: "active"}, []string{"2", "1"}, 2},
		{"price range", Query{Ranges: map[string]Range{"price": Between(20, 100)}}, []string{"4", "2"}, 2},
		{"open range", Query{Ranges: map[string]Range{"price": AtLeast(100)}}, []string{"1"}, 1},
		{"second page", Query{Page: 2, PageSize: 3}, []string{"1"}, 4},
		{"past the end", Query{Page: 5, PageSize: 3}, []string{}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := f.repo.List(ctx, tt.query)
			require.NoError(t, err)
			assert.True(t, page.FromLocal)
			assert.Equal(t, tt.want, ids(page.Items))
			assert.Equal(t, tt.total, page.Total)
		})
	}
}

func TestByCategoryFallbackUsesIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog()...)
	_, err := f.repo.List(ctx, Query{})
	require.NoError(t, err)

	f.remote.fail(&net.OpError{Op: "dial", Err: errors.New("connection refused")})
	page, err := f.repo.ByCategory(ctx, "accessories", Query{})
	require.NoError(t, err)
	assert.True(t, page.FromLocal)
	assert.Equal(t, []string{"3"}, ids(page.Items))
}

func TestFallbackExhaustedReturnsRemoteError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	boom := errors.New("502 bad gateway")
	f.remote.fail(boom)

	_, err := f.repo.List(ctx, Query{})
	require.ErrorIs(t, err, boom)

	_, err = f.repo.Get(ctx, "1")
	require.ErrorIs(t, err, boom)
}

func TestGetFallsBackToMirror(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog()...)

	got, err := f.repo.Get(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "Hand Saw", got.Name)

	f.remote.fail(context.DeadlineExceeded)
	got, err = f.repo.Get(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "Hand Saw", got.Name)
}

func TestConcurrentListsShareOneRemoteCall(t *testing.T) {
	f := newFixture(t, catalog()...)
	f.remote.gate = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.repo.List(context.Background(), Query{Category: "tools"})
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(f.remote.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.remote.calls.Load())
}

func TestOfflineCreateQueuesOneOperation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.conn.Set(false)

	created, err := f.repo.Create(ctx, &item{Name: "X"})
	require.NoError(t, err)
	assert.Regexp(t, `^local-\d+-[0-9a-f]+$`, created.ID)
	assert.True(t, IsLocalID(created.ID))
	assert.Equal(t, f.clock.Now(), created.CreatedAt)
	assert.Equal(t, f.clock.Now(), created.UpdatedAt)
	assert.Equal(t, int32(0), f.remote.calls.Load())

	ops, err := f.outbox.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, OpCreate, ops[0].Type)
	assert.Equal(t, created.ID, ops[0].LocalID)
	assert.Equal(t, "item", ops[0].EntityKind)
	var payload item
	require.NoError(t, json.Unmarshal(ops[0].Payload, &payload))
	assert.Equal(t, "X", payload.Name)
	assert.Equal(t, created.ID, payload.ID)

	local, err := f.local.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "X", local.Name)
}

func TestNetworkFailureOnCreateCommitsLocally(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.fail(fmt.Errorf("post /items: %w", ErrUnavailable))

	created, err := f.repo.Create(ctx, &item{Name: "Y"})
	require.NoError(t, err)
	assert.True(t, IsLocalID(created.ID))

	n, err := f.outbox.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRemoteRejectionIsNotQueued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rejected := errors.New("422 name is required")
	f.remote.fail(rejected)

	_, err := f.repo.Create(ctx, &item{})
	require.ErrorIs(t, err, rejected)

	n, err := f.outbox.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOnlineWritesMirrorAuthoritativeResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.repo.Create(ctx, &item{Name: "Level"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", created.ID)

	_, err = f.local.Get(ctx, "srv-1")
	require.NoError(t, err)

	require.NoError(t, f.repo.Delete(ctx, "srv-1"))
	_, err = f.local.Get(ctx, "srv-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWritesToQueuedEntityStayInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.conn.Set(false)

	created, err := f.repo.Create(ctx, &item{Name: "Tape"})
	require.NoError(t, err)

	// back online, but the create has not been replayed yet
	f.conn.Set(true)
	f.clock.Advance(time.Minute)
	updated, err := f.repo.Update(ctx, created.ID, &item{Name: "Tape 25m"})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), updated.UpdatedAt)
	require.NoError(t, f.repo.Delete(ctx, created.ID))
	assert.Equal(t, int32(0), f.remote.calls.Load())

	ops, err := f.outbox.ForEntity(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, []OpType{OpCreate, OpUpdate, OpDelete}, []OpType{ops[0].Type, ops[1].Type, ops[2].Type})
	assert.Less(t, ops[0].Seq, ops[1].Seq)
	assert.Less(t, ops[1].Seq, ops[2].Seq)

	_, err = f.local.Get(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestQueuedRemoteEntityIsUpdatedOffline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog()...)

	f.repo.SetForceOffline(true)
	_, err := f.repo.Update(ctx, "1", &item{Name: "Drill v2", Category: "tools"})
	require.NoError(t, err)
	f.repo.SetForceOffline(false)

	_, err = f.repo.Update(ctx, "1", &item{Name: "Drill v3", Category: "tools"})
	require.NoError(t, err)
	assert.Equal(t, int32(0), f.remote.calls.Load())

	ops, err := f.outbox.ForEntity(ctx, "1")
	require.NoError(t, err)
	assert.Len(t, ops, 2)
}

func TestOfflineReadWithEmptyMirror(t *testing.T) {
	f := newFixture(t)
	f.conn.Set(false)

	_, err := f.repo.List(context.Background(), Query{})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(0), f.remote.calls.Load())
}

func TestFailedEnqueueRollsBackLocalCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	broken := memstore.New()
	outbox, err := OpenOutbox(ctx, broken)
	require.NoError(t, err)
	repo := New[*item]("item", f.remote, f.local, outbox, ForceOffline(), WithClock(f.clock))

	diskFull := errors.New("disk full")
	broken.Fail(diskFull)
	_, err = repo.Create(ctx, &item{Name: "Z"})
	require.ErrorIs(t, err, diskFull)

	n, err := f.local.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIsNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", fmt.Errorf("list: %w", ErrUnavailable), true},
		{"deadline", context.DeadlineExceeded, true},
		{"net error", &net.DNSError{Err: "no such host", Name: "api.example.com"}, true},
		{"cancelled", context.Canceled, false},
		{"remote rejection", errors.New("409 conflict"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNetworkError(tt.err))
		})
	}
}

func TestQueryKeyIsStable(t *testing.T) {
	a := Query{Search: "drill", Ranges: map[string]Range{"price": AtMost(50), "stock": AtLeast(1)}}
	b := Query{Search: "drill", Ranges: map[string]Range{"stock": AtLeast(1), "price": AtMost(50)}, Page: 1, PageSize: DefaultPageSize}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), Query{Search: "drill"}.Key())
}

func TestJoinerOfCancelledReadGetsRemoteResult(t *testing.T) {
	f := newFixture(t, catalog()...)
	f.remote.gate = make(chan struct{})

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := f.repo.List(leaderCtx, Query{Category: "tools"})
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return f.remote.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		page Page[*item]
		err  error
	}
	joined := make(chan result, 1)
	go func() {
		page, err := f.repo.List(context.Background(), Query{Category: "tools"})
		joined <- result{page, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	require.ErrorIs(t, <-leaderErr, context.Canceled)
	require.Eventually(t, func() bool { return f.remote.calls.Load() == 2 }, time.Second, time.Millisecond)
	close(f.remote.gate)

	got := <-joined
	require.NoError(t, got.err)
	assert.False(t, got.page.FromLocal)
	assert.Equal(t, []string{"4", "2", "1"}, ids(got.page.Items))
}

func TestJoinerOfCancelledGetGetsRemoteResult(t *testing.T) {
	f := newFixture(t, catalog()...)
	f.remote.gate = make(chan struct{})

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	go f.repo.Get(leaderCtx, "2")
	require.Eventually(t, func() bool { return f.remote.calls.Load() == 1 }, time.Second, time.Millisecond)

	joined := make(chan error, 1)
	var got *item
	go func() {
		var err error
		got, err = f.repo.Get(context.Background(), "2")
		joined <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	require.Eventually(t, func() bool { return f.remote.calls.Load() == 2 }, time.Second, time.Millisecond)
	close(f.remote.gate)

	require.NoError(t, <-joined)
	assert.Equal(t, "Hand Saw", got.Name)
}

// slowQueue holds the first Enqueue until release is closed.
type slowQueue struct {
	*Outbox
	entered chan struct{}
	release chan struct{}
}

func (q *slowQueue) Enqueue(ctx context.Context, op SyncOperation) error {
	select {
	case q.entered <- struct{}{}:
	default:
	}
	<-q.release
	return q.Outbox.Enqueue(ctx, op)
}

func TestOnlineWriteWaitsForQueuedWriteOfSameEntity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog()...)
	q := &slowQueue{Outbox: f.outbox, entered: make(chan struct{}, 1), release: make(chan struct{})}
	repo := New[*item]("item", f.remote, f.local, q, WithConnectivity(f.conn), WithClock(f.clock))

	f.conn.Set(false)
	first := make(chan error, 1)
	go func() {
		_, err := repo.Update(ctx, "1", &item{Name: "A", Category: "tools"})
		first <- err
	}()
	<-q.entered

	f.conn.Set(true)
	second := make(chan error, 1)
	go func() {
		_, err := repo.Update(ctx, "1", &item{Name: "B", Category: "tools"})
		second <- err
	}()
	assert.Never(t, func() bool { return f.remote.calls.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(q.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, int32(0), f.remote.calls.Load())

	ops, err := f.outbox.ForEntity(ctx, "1")
	require.NoError(t, err)
	require.Len(t, ops, 2)
	var names []string
	for _, op := range ops {
		var it item
		require.NoError(t, json.Unmarshal(op.Payload, &it))
		names = append(names, it.Name)
	}
	assert.Equal(t, []string{"A", "B"}, names)

	local, err := f.local.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "B", local.Name)
}
