package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"staycal/api/internal/cache"
)

// RedisCache stores feed bodies keyed by a hash of the feed URL.
type RedisCache struct {
	store *cache.RedisStore
	ttl   time.Duration
}

func NewRedisCache(store *cache.RedisStore, ttl time.Duration) *RedisCache {
	return &RedisCache{store: store, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, feedURL string) (CachedFeed, bool, error) {
	var feed CachedFeed
	ok, err := c.store.Load(ctx, cacheKey(feedURL), &feed)
	if err != nil || !ok {
		return CachedFeed{}, false, err
	}
	return feed, true, nil
}

func (c *RedisCache) Put(ctx context.Context, feedURL string, feed CachedFeed) error {
	return c.store.Save(ctx, cacheKey(feedURL), feed, c.ttl)
}

func cacheKey(feedURL string) string {
	sum := sha256.Sum256([]byte(feedURL))
	return hex.EncodeToString(sum[:8])
}
