package offline

import (
	"context"
	"errors"
	"fmt"

	"github.com/krisalay/offline-cache/codec"
	"github.com/krisalay/offline-cache/store"
)

// Secondary indexes maintained for every mirrored record.
const (
	IndexCategory = "category"
	IndexStatus   = "status"
)

// RecordStore is the local mirror of one entity kind, kept in a store.Store namespace.
type RecordStore[E Entity] struct {
	st    store.Store
	codec codec.Codec[E]
}

// NewRecordStore wraps st. A nil codec means msgpack.
func NewRecordStore[E Entity](st store.Store, cd codec.Codec[E]) *RecordStore[E] {
	if cd == nil {
		cd = codec.Msgpack[E]{}
	}
	return &RecordStore[E]{st: st, codec: cd}
}

// Put upserts e by id.
func (s *RecordStore[E]) Put(ctx context.Context, e E) error {
	raw, err := s.codec.Encode(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.EntityID(), err)
	}
	attrs := e.Attributes()
	indexes := make(map[string]string, 2)
	if attrs.Category != "" {
		indexes[IndexCategory] = attrs.Category
	}
	if attrs.Status != "" {
		indexes[IndexStatus] = attrs.Status
	}
	return s.st.Put(ctx, store.Record{Key: e.EntityID(), Value: raw, Indexes: indexes})
}

// Get returns the record with id, or an error wrapping ErrNotFound.
func (s *RecordStore[E]) Get(ctx context.Context, id string) (E, error) {
	var zero E
	rec, err := s.st.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return zero, err
	}
	return s.codec.Decode(rec.Value)
}

// Delete removes id. A missing id is not an error.
func (s *RecordStore[E]) Delete(ctx context.Context, id string) error {
	return s.st.Delete(ctx, id)
}

// All returns every mirrored record.
func (s *RecordStore[E]) All(ctx context.Context) ([]E, error) {
	recs, err := s.st.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return s.decodeAll(recs)
}

// ByIndex returns the records whose index equals value.
func (s *RecordStore[E]) ByIndex(ctx context.Context, index, value string) ([]E, error) {
	recs, err := s.st.Query(ctx, index, value)
	if err != nil {
		return nil, err
	}
	return s.decodeAll(recs)
}

// Len returns the number of mirrored records.
func (s *RecordStore[E]) Len(ctx context.Context) (int, error) {
	recs, err := s.st.GetAll(ctx)
	return len(recs), err
}

func (s *RecordStore[E]) decodeAll(recs []store.Record) ([]E, error) {
	out := make([]E, 0, len(recs))
	for _, rec := range recs {
		e, err := s.codec.Decode(rec.Value)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", rec.Key, err)
		}
		out = append(out, e)
	}
	return out, nil
}
