package api

import (
	"context"
	"time"
)

/*
Cache defines the contract shared by the cache tiers (bounded in-memory and durable).
Accessors are written against this interface, so the same read-through orchestration
runs over either tier.

None of the methods return errors: caching is best-effort. A tier that cannot reach
its storage degrades silently and logs instead.
*/
type Cache[T any] interface {

	/*
		Set stores value under key.

		BEHAVIOR:
		---------
		- ttl > 0 sets expiry to now + ttl
		- ttl <= 0 uses the tier's default TTL
		- A bounded tier may evict one entry to make room
	*/
	Set(ctx context.Context, key string, value T, ttl time.Duration)

	/*
		Get returns the value for key if it exists and has not expired.

		An expired entry is removed on the way out and reported as missing.
	*/
	Get(ctx context.Context, key string) (T, bool)

	// Has reports whether a live entry exists, without counting as an access.
	Has(ctx context.Context, key string) bool

	/*
		Delete removes key. Idempotent: deleting a missing key is safe and returns false.
	*/
	Delete(ctx context.Context, key string) bool

	// Clear removes every entry.
	Clear(ctx context.Context)

	/*
		Close releases background resources.

		- Stops sweep / cleanup goroutines
		- Flushes pending write-back operations
	*/
	Close()
}
