// Package codec is the serialization boundary between typed values and durable bytes.
package codec

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes T for a durable store and back.
type Codec[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}

// Msgpack is the default codec of the durable cache: compact and schema-less.
type Msgpack[T any] struct{}

func (Msgpack[T]) Encode(v T) ([]byte, error) { return msgpack.Marshal(v) }

func (Msgpack[T]) Decode(b []byte) (T, error) {
	var v T
	err := msgpack.Unmarshal(b, &v)
	return v, err
}

// JSON is used where the bytes leave the engine, like sync operation payloads.
type JSON[T any] struct{}

func (JSON[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }

func (JSON[T]) Decode(b []byte) (T, error) {
	var v T
	err := json.Unmarshal(b, &v)
	return v, err
}
