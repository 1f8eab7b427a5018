package writepolicy

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/krisalay/offline-cache/store"
)

// This file implements the "write-back" policy.

// writeReq is one pending change. A request with a non-nil barrier carries no
// change; the worker closes the barrier when it reaches it.
type writeReq struct {
	ctx     context.Context
	rec     store.Record
	delete  bool
	barrier chan struct{}
}

/*
WriteBackPolicy applies store changes asynchronously, in the order they were accepted.

Puts and deletes share one queue and one worker, so a delete never overtakes an
earlier put of the same key. When the queue is full the caller waits for room
rather than dropping the change.
*/
type WriteBackPolicy struct {
	store   store.Store
	log     zerolog.Logger
	onError ErrorFunc

	// mu guards closed and the send side of ch.
	mu     sync.RWMutex
	closed bool
	ch     chan writeReq
	wg     sync.WaitGroup
}

// NewWriteBackPolicy starts a write-back policy with room for buffer queued changes.
func NewWriteBackPolicy(st store.Store, buffer int, log zerolog.Logger, onError ErrorFunc) *WriteBackPolicy {
	if buffer < 1 {
		buffer = 1
	}
	w := &WriteBackPolicy{
		store:   st,
		log:     log,
		onError: onError,
		ch:      make(chan writeReq, buffer),
	}

	w.wg.Add(1)
	go w.worker()

	return w
}

func (w *WriteBackPolicy) OnWrite(ctx context.Context, rec store.Record) {
	w.enqueue(writeReq{ctx: context.WithoutCancel(ctx), rec: rec})
}

func (w *WriteBackPolicy) OnDelete(ctx context.Context, key string) {
	w.enqueue(writeReq{ctx: context.WithoutCancel(ctx), rec: store.Record{Key: key}, delete: true})
}

// Flush blocks until everything queued before the call has been applied.
func (w *WriteBackPolicy) Flush() {
	barrier := make(chan struct{})
	if !w.enqueue(writeReq{barrier: barrier}) {
		return
	}
	<-barrier
}

/*
Close stops accepting changes, then waits for the worker to apply everything
already queued. Without this, pending writes could be lost on shutdown.
*/
func (w *WriteBackPolicy) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *WriteBackPolicy) enqueue(req writeReq) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.log.Debug().Str("key", req.rec.Key).Msg("write-back closed, change ignored")
		return false
	}
	w.ch <- req
	return true
}

/*
worker drains the queue. This is where eventual consistency happens.
*/
func (w *WriteBackPolicy) worker() {
	defer w.wg.Done()

	for req := range w.ch {
		switch {
		case req.barrier != nil:
			close(req.barrier)
		case req.delete:
			report(w.log, w.onError, "delete", req.rec.Key, w.store.Delete(req.ctx, req.rec.Key))
		default:
			report(w.log, w.onError, "put", req.rec.Key, w.store.Put(req.ctx, req.rec))
		}
	}
}
