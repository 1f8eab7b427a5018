package expiration

import (
	"time"

	"github.com/krisalay/offline-cache/types"
)

/*
ExpireAfterAccess implements "sliding TTL".
Every time someone reads the data, the expiration timer is pushed forward. As long as the data keeps
getting used, it stays alive. If nobody touches it for a while, it expires.
*/
type ExpireAfterAccess struct {

	// TTL defines how long the entry should remain valid AFTER it is accessed.
	TTL time.Duration
}

// IsExpired checks whether the entry is expired at this moment.
func (e *ExpireAfterAccess) IsExpired(m *types.Meta, now time.Time) bool {
	return !m.Valid(now)
}

/*
OnAccess pushes ExpireAt forward by TTL and records the access.
*/
func (e *ExpireAfterAccess) OnAccess(m *types.Meta, now time.Time) {
	m.LastAccessedAt = now
	m.AccessCount++
	m.ExpireAt = now.Add(e.TTL)
}

/*
OnWrite records the creation time and sets ExpireAt. An explicit ttl wins over the sliding TTL
for the first window only; the next read slides it by TTL again.
*/
func (e *ExpireAfterAccess) OnWrite(m *types.Meta, now time.Time, ttl time.Duration) {
	m.CreatedAt = now
	m.LastAccessedAt = now
	m.AccessCount = 0
	if ttl <= 0 {
		ttl = e.TTL
	}
	m.ExpireAt = now.Add(ttl)
}
