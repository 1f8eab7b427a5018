package accessor

import (
	"github.com/krisalay/offline-cache/api"
	"github.com/krisalay/offline-cache/coordinator"
	"github.com/krisalay/offline-cache/durable"
	"github.com/krisalay/offline-cache/policy"
	"github.com/krisalay/offline-cache/types"
)

// Tiers builds accessors on the tier a source's policy asks for: Durable policies go
// to the durable cache, everything else to the memory cache.
type Tiers[T any] struct {
	Table   *policy.Table
	Memory  api.Cache[T]
	Durable *durable.Cache[T]
	Coord   *coordinator.Coordinator[T]
}

// For creates an accessor for key, resolving its policy from source. Without a durable
// cache every source lands in memory.
func (t Tiers[T]) For(key, source string, fetcher types.Fetcher[T], opts ...Option) *Accessor[T] {
	opts = append([]Option{WithSource(source), WithPolicyTable(t.Table)}, opts...)
	if t.Durable != nil && t.Table != nil && t.Table.Resolve(source).Durable {
		return NewDurable(key, t.Durable, t.Coord, fetcher, opts...)
	}
	return New(key, t.Memory, t.Coord, fetcher, opts...)
}
