package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/krisalay/offline-cache/offline"
)

/*
MemRemote is an in-process product backend. It stands in for the product API in the
demo binary and in tests; SetReachable(false) makes every call fail like a dropped
connection.
*/
type MemRemote struct {
	mu        sync.Mutex
	products  map[string]*Product
	reachable atomic.Bool
	calls     atomic.Int64
}

// NewMemRemote returns a reachable backend seeded with products.
func NewMemRemote(products ...*Product) *MemRemote {
	m := &MemRemote{products: make(map[string]*Product, len(products))}
	for _, p := range products {
		cp := *p
		m.products[p.ID] = &cp
	}
	m.reachable.Store(true)
	return m
}

// SetReachable simulates losing or regaining the network.
func (m *MemRemote) SetReachable(on bool) {
	m.reachable.Store(on)
}

// Calls returns how many requests reached the backend, failed ones included.
func (m *MemRemote) Calls() int64 {
	return m.calls.Load()
}

func (m *MemRemote) check(ctx context.Context) error {
	m.calls.Inc()
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.reachable.Load() {
		return fmt.Errorf("product api: %w", offline.ErrUnavailable)
	}
	return nil
}

func (m *MemRemote) all() []*Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Product, 0, len(m.products))
	for _, p := range m.products {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

func (m *MemRemote) List(ctx context.Context, q offline.Query) (offline.Page[*Product], error) {
	if err := m.check(ctx); err != nil {
		return offline.Page[*Product]{}, err
	}
	page := offline.Apply(m.all(), q)
	page.FromLocal = false
	return page, nil
}

func (m *MemRemote) ByCategory(ctx context.Context, category string, q offline.Query) (offline.Page[*Product], error) {
	q.Category = category
	return m.List(ctx, q)
}

func (m *MemRemote) Get(ctx context.Context, id string) (*Product, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, offline.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *MemRemote) Create(ctx context.Context, p *Product) (*Product, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.ID = uuid.NewString()
	m.products[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MemRemote) Update(ctx context.Context, id string, p *Product) (*Product, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return nil, fmt.Errorf("product %s: %w", id, offline.ErrNotFound)
	}
	cp := *p
	cp.ID = id
	m.products[id] = &cp
	out := cp
	return &out, nil
}

func (m *MemRemote) Delete(ctx context.Context, id string) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.products, id)
	return nil
}
