package types

import "time"

/*
Meta holds the bookkeeping the cache keeps for every entry.

Expiration strategies and eviction only ever look at Meta, never at the value,
so they stay independent of the value type.
*/
type Meta struct {
	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpireAt       time.Time // zero => no TTL
	AccessCount    int64
}

// Valid reports whether the entry may still be served at now.
// An entry is valid up to and including its expiry instant.
func (m *Meta) Valid(now time.Time) bool {
	return m.ExpireAt.IsZero() || !now.After(m.ExpireAt)
}

// CacheEntry is owned by the cache that created it.
// Only that cache mutates the metadata, under its own lock.
type CacheEntry[T any] struct {
	Key   string
	Value T
	Meta
}
