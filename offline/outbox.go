package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/krisalay/offline-cache/codec"
	"github.com/krisalay/offline-cache/store"
)

// OpType is the kind of mutation a SyncOperation replays.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Status of a queued operation.
type Status string

const (
	StatusPending Status = "pending"

	// StatusFailed marks an operation the drain engine tried and could not apply.
	StatusFailed Status = "failed"
)

// SyncOperation is one offline mutation awaiting replay against the remote.
type SyncOperation struct {
	Seq        uint64          `msgpack:"seq" json:"seq"`
	Type       OpType          `msgpack:"type" json:"type"`
	EntityKind string          `msgpack:"kind" json:"kind"`
	LocalID    string          `msgpack:"local_id" json:"localId"`
	Payload    json.RawMessage `msgpack:"payload" json:"payload,omitempty"`
	EnqueuedAt time.Time       `msgpack:"enqueued_at" json:"enqueuedAt"`
	Status     Status          `msgpack:"status" json:"status"`
	Attempts   int             `msgpack:"attempts" json:"attempts"`
	LastError  string          `msgpack:"last_error" json:"lastError,omitempty"`
}

// SyncQueue receives offline mutations. Operations for one entity must be accepted in
// call order.
type SyncQueue interface {
	Enqueue(ctx context.Context, op SyncOperation) error
}

// entityQueue is implemented by queues that can list the operations of one entity.
// The repository uses it to keep later writes behind queued ones.
type entityQueue interface {
	ForEntity(ctx context.Context, localID string) ([]SyncOperation, error)
}

const indexLocalID = "localId"

// seqMarkKey holds the highest sequence ever assigned. It sorts after every operation key.
const seqMarkKey = "~seq"

/*
Outbox is the durable SyncQueue: an ordered log of operations in a store.Store namespace.

Sequence numbers increase monotonically and resume from storage on Open, even when
every operation has been acknowledged. Records are keyed by the zero-padded sequence,
so key order is enqueue order. Acknowledged operations are deleted.
*/
type Outbox struct {
	mu    sync.Mutex
	st    store.Store
	codec codec.Codec[SyncOperation]
	clock clockwork.Clock
	seq   uint64
}

// OutboxOption configures an Outbox.
type OutboxOption func(*Outbox)

// WithOutboxClock sets the clock stamping EnqueuedAt.
func WithOutboxClock(c clockwork.Clock) OutboxOption {
	return func(o *Outbox) { o.clock = c }
}

// OpenOutbox opens the outbox over st and resumes its sequence.
func OpenOutbox(ctx context.Context, st store.Store, opts ...OutboxOption) (*Outbox, error) {
	o := &Outbox{
		st:    st,
		codec: codec.Msgpack[SyncOperation]{},
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(o)
	}

	recs, err := st.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	for _, rec := range recs {
		raw := rec.Key
		if rec.Key == seqMarkKey {
			raw = string(rec.Value)
		}
		seq, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("open outbox: bad sequence %q: %w", raw, err)
		}
		o.seq = max(o.seq, seq)
	}
	return o, nil
}

/*
Enqueue assigns the next sequence number and persists op. EnqueuedAt defaults to now
and Status to pending. A failed write does not consume the sequence number.
*/
func (o *Outbox) Enqueue(ctx context.Context, op SyncOperation) error {
	if op.LocalID == "" {
		return errors.New("enqueue: operation without local id")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	op.Seq = o.seq + 1
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = o.clock.Now()
	}
	if op.Status == "" {
		op.Status = StatusPending
	}
	mark := store.Record{Key: seqMarkKey, Value: []byte(strconv.FormatUint(op.Seq, 10))}
	if err := o.st.Put(ctx, mark); err != nil {
		return fmt.Errorf("enqueue %s %s: %w", op.Type, op.LocalID, err)
	}
	if err := o.put(ctx, op); err != nil {
		return fmt.Errorf("enqueue %s %s: %w", op.Type, op.LocalID, err)
	}
	o.seq = op.Seq
	return nil
}

// Pending returns every unacknowledged operation in enqueue order.
func (o *Outbox) Pending(ctx context.Context) ([]SyncOperation, error) {
	recs, err := o.st.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return o.decodeAll(recs)
}

// ForEntity returns the unacknowledged operations of one entity in enqueue order.
func (o *Outbox) ForEntity(ctx context.Context, localID string) ([]SyncOperation, error) {
	recs, err := o.st.Query(ctx, indexLocalID, localID)
	if err != nil {
		return nil, err
	}
	return o.decodeAll(recs)
}

// Ack removes a replayed operation.
func (o *Outbox) Ack(ctx context.Context, seq uint64) error {
	return o.st.Delete(ctx, seqKey(seq))
}

// MarkFailed records a failed replay attempt, keeping the operation in place.
func (o *Outbox) MarkFailed(ctx context.Context, seq uint64, cause error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, err := o.st.Get(ctx, seqKey(seq))
	if err != nil {
		return err
	}
	op, err := o.codec.Decode(rec.Value)
	if err != nil {
		return err
	}
	op.Status = StatusFailed
	op.Attempts++
	if cause != nil {
		op.LastError = cause.Error()
	}
	return o.put(ctx, op)
}

// Len returns the number of unacknowledged operations.
func (o *Outbox) Len(ctx context.Context) (int, error) {
	recs, err := o.st.GetAll(ctx)
	return len(operations(recs)), err
}

func (o *Outbox) put(ctx context.Context, op SyncOperation) error {
	raw, err := o.codec.Encode(op)
	if err != nil {
		return err
	}
	return o.st.Put(ctx, store.Record{
		Key:     seqKey(op.Seq),
		Value:   raw,
		Indexes: map[string]string{indexLocalID: op.LocalID},
	})
}

func (o *Outbox) decodeAll(recs []store.Record) ([]SyncOperation, error) {
	recs = operations(recs)
	ops := make([]SyncOperation, 0, len(recs))
	for _, rec := range recs {
		op, err := o.codec.Decode(rec.Value)
		if err != nil {
			return nil, fmt.Errorf("decode operation %s: %w", rec.Key, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// operations drops the sequence mark from recs.
func operations(recs []store.Record) []store.Record {
	return slices.DeleteFunc(recs, func(rec store.Record) bool { return rec.Key == seqMarkKey })
}

func seqKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}
