// Package ristretto implements the cache port over dgraph-io/ristretto for
// knowledge-retrieval results.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Retrieval payloads are a few KB each; size the admission counters for the
// number of entries that fit rather than a fixed guess.
const assumedEntryBytes = 4 << 10

// Cache holds serialized search results keyed by query shape.
type Cache struct {
	inner *ristretto.Cache[string, []byte]
}

// New creates a cache bounded by maxCostBytes of stored value bytes.
func New(maxCostBytes int64) (*Cache, error) {
	counters := maxCostBytes / assumedEntryBytes * 10
	if counters < 1024 {
		counters = 1024
	}
	inner, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner}, nil
}

// Get returns the cached value for key, if present.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, ok := c.inner.Get(key)
	if !ok {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores value under key for ttl. Admission is synchronous so a repeat
// of the same search within one run hits the cache.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.inner.SetWithTTL(key, value, int64(len(value)), ttl)
	c.inner.Wait()
	return nil
}

// Delete evicts key. Used when a cached payload fails to decode.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.inner.Del(key)
	return nil
}

// Close releases the cache's internal goroutines.
func (c *Cache) Close() {
	c.inner.Close()
}
