// Package cache provides the gateway's key/value store abstraction: a
// shared (Redis) backend and an in-process fallback behind one interface.
package cache

import (
	"context"
	"time"
)

// Store is the contract every cache backend implements. Besides plain
// get/set it exposes the two compound operations the behavioral profiler
// needs: a hash write with a refreshed expiry, and a bounded list push
// with a refreshed expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// HSetWithExpire writes fields into a hash and refreshes its TTL in one
	// round trip to the backend.
	HSetWithExpire(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	// HGetAll returns every field of a hash, or an empty map if it does not exist.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// ListPushTrimExpire pushes value onto the head of a list, trims it to
	// maxLen entries, and refreshes its TTL.
	ListPushTrimExpire(ctx context.Context, key, value string, maxLen int, ttl time.Duration) error
	// ListRange returns the list contents, most-recently-pushed first.
	ListRange(ctx context.Context, key string) ([]string, error)

	// Ping reports whether the backend is reachable, for /health.
	Ping(ctx context.Context) error
}

// unwrapper is implemented by Store decorators (e.g. the metrics package's
// instrumented store) that wrap another Store without changing its backend.
type unwrapper interface {
	Unwrap() Store
}

// Shared reports whether store is backed by the shared cache (Redis) as
// opposed to the in-process fallback. The behavioral profiler consults
// this to decide whether to degrade to a no-op instead of silently
// drifting out of sync across instances; the anomaly counters do not
// consult it and run on either store. Decorators are unwrapped first so wrapping
// a store for metrics or logging never changes this answer.
func Shared(s Store) bool {
	for {
		u, ok := s.(unwrapper)
		if !ok {
			break
		}
		s = u.Unwrap()
	}
	_, ok := s.(*RedisStore)
	return ok
}
