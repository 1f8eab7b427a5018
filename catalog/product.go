// Package catalog is the product entity served through the offline repository.
package catalog

import (
	"context"
	"time"

	"github.com/krisalay/offline-cache/offline"
	"github.com/krisalay/offline-cache/store"
)

// Kind names products in sync operations.
const Kind = "product"

// Product statuses.
const (
	StatusDraft    = "draft"
	StatusActive   = "active"
	StatusArchived = "archived"
)

type Product struct {
	ID          string    `json:"id" msgpack:"id"`
	Name        string    `json:"name" msgpack:"name"`
	Description string    `json:"description,omitempty" msgpack:"description"`
	Category    string    `json:"category,omitempty" msgpack:"category"`
	Status      string    `json:"status,omitempty" msgpack:"status"`
	Price       float64   `json:"price" msgpack:"price"`
	Stock       int       `json:"stock" msgpack:"stock"`
	CreatedAt   time.Time `json:"createdAt" msgpack:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" msgpack:"updated_at"`
}

func (p *Product) EntityID() string      { return p.ID }
func (p *Product) SetEntityID(id string) { p.ID = id }

func (p *Product) Stamp(created, updated time.Time) {
	if !created.IsZero() {
		p.CreatedAt = created
	}
	p.UpdatedAt = updated
}

// Attributes makes name and description searchable and price and stock rangeable.
func (p *Product) Attributes() offline.Attributes {
	return offline.Attributes{
		Category:  p.Category,
		Status:    p.Status,
		Text:      []string{p.Name, p.Description},
		Numbers:   map[string]float64{"price": p.Price, "stock": float64(p.Stock)},
		UpdatedAt: p.UpdatedAt,
	}
}

// Remote is the product API.
type Remote = offline.Remote[*Product]

// Repository is the product-facing API of the offline repository.
type Repository struct {
	repo *offline.Repository[*Product]
}

// NewRepository mirrors products into st and queues offline writes on queue.
func NewRepository(remote Remote, st store.Store, queue offline.SyncQueue, opts ...offline.Option) *Repository {
	local := offline.NewRecordStore[*Product](st, nil)
	return &Repository{repo: offline.New(Kind, remote, local, queue, opts...)}
}

// SetForceOffline switches forced offline mode.
func (r *Repository) SetForceOffline(on bool) {
	r.repo.SetForceOffline(on)
}

func (r *Repository) ListProducts(ctx context.Context, q offline.Query) (offline.Page[*Product], error) {
	return r.repo.List(ctx, q)
}

func (r *Repository) GetProduct(ctx context.Context, id string) (*Product, error) {
	return r.repo.Get(ctx, id)
}

func (r *Repository) ProductsByCategory(ctx context.Context, category string, q offline.Query) (offline.Page[*Product], error) {
	return r.repo.ByCategory(ctx, category, q)
}

// CreateProduct creates p. New products default to the draft status.
func (r *Repository) CreateProduct(ctx context.Context, p *Product) (*Product, error) {
	if p.Status == "" {
		p.Status = StatusDraft
	}
	return r.repo.Create(ctx, p)
}

func (r *Repository) UpdateProduct(ctx context.Context, id string, p *Product) (*Product, error) {
	return r.repo.Update(ctx, id, p)
}

func (r *Repository) DeleteProduct(ctx context.Context, id string) error {
	return r.repo.Delete(ctx, id)
}
