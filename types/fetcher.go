package types

import "context"

/*
Fetcher is the contract between an accessor and the remote data source.

It is called when the cache misses or a refresh is forced:
 1. Accessor checks the cache → nothing usable
 2. Accessor calls the Fetcher with a cancellable context
 3. Fetcher talks to the network / database
 4. Accessor stores the result in the cache
 5. Accessor returns the value

When ctx is cancelled the Fetcher must return an error that satisfies
errors.Is(err, context.Canceled). Returning ctx.Err() is enough.
*/
type Fetcher[T any] func(ctx context.Context) (T, error)
