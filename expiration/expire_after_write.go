package expiration

import (
	"time"

	"github.com/krisalay/offline-cache/types"
)

/*
ExpireAfterWrite is a fixed TTL measured from the moment the entry was written.
Reads never extend it: ExpireAt = CreatedAt + ttl for the whole life of the entry.

This is the default strategy of both cache tiers.
*/
type ExpireAfterWrite struct {

	// TTL is used when the writer does not pass an explicit one.
	TTL time.Duration
}

// IsExpired reports now > ExpireAt.
func (e *ExpireAfterWrite) IsExpired(m *types.Meta, now time.Time) bool {
	return !m.Valid(now)
}

// OnAccess only records the access; expiry is untouched.
func (e *ExpireAfterWrite) OnAccess(m *types.Meta, now time.Time) {
	m.LastAccessedAt = now
	m.AccessCount++
}

// OnWrite stamps the entry and computes ExpireAt from the explicit or default TTL.
func (e *ExpireAfterWrite) OnWrite(m *types.Meta, now time.Time, ttl time.Duration) {
	if ttl <= 0 {
		ttl = e.TTL
	}
	m.CreatedAt = now
	m.LastAccessedAt = now
	m.AccessCount = 0
	if ttl > 0 {
		m.ExpireAt = now.Add(ttl)
	} else {
		m.ExpireAt = time.Time{}
	}
}
