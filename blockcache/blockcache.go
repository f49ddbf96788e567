// Package blockcache implements the bounded front-end described in
// spec.md §4.2: a fixed-capacity cache keyed by block/receipt identity that
// collapses concurrent misses for the same key into a single upstream
// fetch ("scoped exclusive acquisition of the single-slot entry"), so two
// observers racing to inspect the same block never issue duplicate RPCs.
package blockcache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Fetcher retrieves a value for key from the upstream source on a cache
// miss. Ledger packages supply this as a thin wrapper around their RPC
// client's by-hash/by-number lookup.
type Fetcher[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Cache is a bounded LRU in front of a Fetcher, with single-flight
// deduplication of concurrent misses on the same key.
type Cache[K comparable, V any] struct {
	lru    *lru.Cache[K, V]
	fetch  Fetcher[K, V]
	flight singleflight.Group
}

// New constructs a Cache of the given capacity backed by fetch. capacity
// must be positive.
func New[K comparable, V any](capacity int, fetch Fetcher[K, V]) (*Cache[K, V], error) {
	inner, err := lru.New[K, V](capacity)
	if err != nil {
		return nil, fmt.Errorf("blockcache: %w", err)
	}
	return &Cache[K, V]{lru: inner, fetch: fetch}, nil
}

// Get returns the cached value for key, fetching and populating the cache
// on a miss. Concurrent Get calls for the same key that miss together
// block on one shared fetch rather than issuing one RPC each.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	// singleflight.Group keys on string; comparable K values are rare
	// enough in practice (hashes, heights) that %v is a stable enough
	// flight key without requiring K to implement Stringer.
	flightKey := fmt.Sprintf("%v", key)

	v, err, _ := c.flight.Do(flightKey, func() (any, error) {
		// Re-check under the flight lock: another goroutine may have
		// populated the entry while we waited to be scheduled.
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		v, err := c.fetch(ctx, key)
		if err != nil {
			return v, err
		}
		c.lru.Add(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Peek returns the cached value for key without triggering a fetch on
// miss, and without affecting the entry's recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	return c.lru.Peek(key)
}

// Invalidate drops key from the cache. Used when an observer learns a
// previously cached block was reorged out.
func (c *Cache[K, V]) Invalidate(key K) {
	c.lru.Remove(key)
}

// Len reports the number of entries currently cached.
func (c *Cache[K, V]) Len() int {
	return c.lru.Len()
}
