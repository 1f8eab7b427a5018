package writepolicy

import (
	"context"

	"github.com/krisalay/offline-cache/store"
)

/*
This file defines what a "write policy" is for the durable cache tier.

The durable tier always updates its in-memory mirror first; the write policy decides
how and when the same change reaches the durable store:
- write-through: synchronously, before Set returns
- write-back: queued and applied by a background worker, flushed on Close

Persistence is best-effort. Policies never return errors; they log them and report
them to the ErrorFunc so the owner can mark itself degraded.
*/

// ErrorFunc is told about every failed store operation.
type ErrorFunc func(op, key string, err error)

/*
WritePolicy is the contract that all write policies must follow.
*/
type WritePolicy interface {

	// OnWrite persists rec.
	OnWrite(ctx context.Context, rec store.Record)

	// OnDelete removes key from the store.
	OnDelete(ctx context.Context, key string)

	// Flush returns once every change accepted so far has been applied.
	Flush()

	// Close flushes and releases the policy. Later writes are ignored.
	Close()
}
