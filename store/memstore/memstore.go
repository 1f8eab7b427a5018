// Package memstore is an in-memory store.Store, used in tests and as the
// fallback backend of the demo binary.
package memstore

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/krisalay/offline-cache/store"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("memstore: closed")

// Store keeps records in a map. It survives nothing, but honors the full contract.
type Store struct {
	mu      sync.RWMutex
	records map[string]store.Record
	closed  bool
	fail    error
}

// New creates an empty store.
func New() *Store {
	return &Store{records: make(map[string]store.Record)}
}

// Fail makes every following operation return err, until called with nil.
// Tests use it to simulate a disabled or full disk.
func (s *Store) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *Store) check() error {
	if s.closed {
		return ErrClosed
	}
	return s.fail
}

func (s *Store) Get(_ context.Context, key string) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return store.Record{}, err
	}
	rec, ok := s.records[key]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return clone(rec), nil
}

func (s *Store) Put(_ context.Context, rec store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.records[rec.Key] = clone(rec)
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	delete(s.records, key)
	return nil
}

func (s *Store) GetAll(_ context.Context) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]store.Record, 0, len(s.records))
	for _, k := range slices.Sorted(maps.Keys(s.records)) {
		out = append(out, clone(s.records[k]))
	}
	return out, nil
}

func (s *Store) Query(_ context.Context, index, value string) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []store.Record
	for _, k := range slices.Sorted(maps.Keys(s.records)) {
		rec := s.records[k]
		if v, ok := rec.Indexes[index]; ok && v == value {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func clone(r store.Record) store.Record {
	return store.Record{
		Key:     r.Key,
		Value:   slices.Clone(r.Value),
		Indexes: maps.Clone(r.Indexes),
	}
}
