// This file defines how cache entries expire over time.

package expiration

import (
	"time"

	"github.com/krisalay/offline-cache/types"
)

/*
Strategy is the interface that all expiration rules must follow. Instead of hard-coding
expiration logic into the cache, we define a strategy so expiration behavior can be swapped easily.
*/
type Strategy interface {

	// IsExpired checks if the entry is expired at now.
	IsExpired(*types.Meta, time.Time) bool

	// OnAccess is called whenever a cache entry is read successfully.
	OnAccess(*types.Meta, time.Time)

	// OnWrite is called whenever a cache entry is written or replaced.
	// ttl is the caller's explicit TTL, or zero to use the strategy default.
	OnWrite(m *types.Meta, now time.Time, ttl time.Duration)
}
