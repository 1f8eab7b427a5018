package writepolicy

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/krisalay/offline-cache/store"
)

/*
WriteThroughPolicy forwards every change to the store synchronously.

So the flow is: mirror write → store write → return.
If the store is slow, Set becomes slow.
*/
type WriteThroughPolicy struct {
	store   store.Store
	log     zerolog.Logger
	onError ErrorFunc
}

// NewWriteThroughPolicy creates a write-through policy. onError may be nil.
func NewWriteThroughPolicy(st store.Store, log zerolog.Logger, onError ErrorFunc) *WriteThroughPolicy {
	return &WriteThroughPolicy{store: st, log: log, onError: onError}
}

func (w *WriteThroughPolicy) OnWrite(ctx context.Context, rec store.Record) {
	report(w.log, w.onError, "put", rec.Key, w.store.Put(ctx, rec))
}

func (w *WriteThroughPolicy) OnDelete(ctx context.Context, key string) {
	report(w.log, w.onError, "delete", key, w.store.Delete(ctx, key))
}

// Flush has nothing to wait for: every write already happened.
func (w *WriteThroughPolicy) Flush() {}

// Close has no background worker to stop.
func (w *WriteThroughPolicy) Close() {}

func report(log zerolog.Logger, onError ErrorFunc, op, key string, err error) {
	if err == nil {
		return
	}
	if onError != nil {
		onError(op, key, err)
		return
	}
	log.Warn().Err(err).Str("op", op).Str("key", key).Msg("durable store write failed")
}
