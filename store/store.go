// Package store defines the durable key-value contract used by the durable cache tier,
// the offline record mirror and the outbox.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("store: not found")

// Record is one stored value plus the secondary-index values it should be findable by.
type Record struct {
	Key     string
	Value   []byte
	Indexes map[string]string
}

/*
Store is a process-surviving key-value namespace with secondary-index lookup.

Each Store value is one namespace: several stores may share a database file but never
see each other's keys. Implementations are safe for concurrent use.
*/
type Store interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) (Record, error)

	// Put inserts or replaces the record, including its index values.
	Put(ctx context.Context, rec Record) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// GetAll returns every record ordered by key.
	GetAll(ctx context.Context) ([]Record, error)

	// Query returns records whose index named index equals value, ordered by key.
	Query(ctx context.Context, index, value string) ([]Record, error)

	// Close releases the namespace. Shared databases stay open for other namespaces.
	Close() error
}
