package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opspilot-io/opspilot/internal/port/cache"
	"github.com/opspilot-io/opspilot/internal/port/retriever"
)

// CachedRetriever decorates a Retriever with a read-through cache. Identical
// searches within the TTL are served from the cache without touching the
// knowledge backend. Cache faults degrade to a direct search.
type CachedRetriever struct {
	inner retriever.Retriever
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedRetriever wraps inner with a cache.
func NewCachedRetriever(inner retriever.Retriever, c cache.Cache, ttl time.Duration) *CachedRetriever {
	return &CachedRetriever{inner: inner, cache: c, ttl: ttl}
}

// Search implements retriever.Retriever.
func (r *CachedRetriever) Search(ctx context.Context, query, collection string, topK int, filterTags []string) ([]retriever.Result, error) {
	key := searchCacheKey(query, collection, topK, filterTags)

	if data, ok, err := r.cache.Get(ctx, key); err == nil && ok {
		var results []retriever.Result
		if err := json.Unmarshal(data, &results); err == nil {
			return results, nil
		}
		// Corrupt entry, drop it and search fresh.
		_ = r.cache.Delete(ctx, key)
	}

	results, err := r.inner.Search(ctx, query, collection, topK, filterTags)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(results); err == nil {
		if err := r.cache.Set(ctx, key, data, r.ttl); err != nil {
			slog.Debug("cache search results", "collection", collection, "error", err)
		}
	}
	return results, nil
}

func searchCacheKey(query, collection string, topK int, filterTags []string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%s", query, collection, topK, strings.Join(filterTags, ",")))
	return "search:" + hex.EncodeToString(sum[:16])
}
