package conflict

import (
	"context"
	"time"

	"staycal/api/internal/cache"
	"staycal/api/internal/feed"
)

// RedisAdvisoryStore expires advisories after ttl so a calendar whose sync
// stopped does not keep stale blocks forever.
type RedisAdvisoryStore struct {
	store *cache.RedisStore
	ttl   time.Duration
}

func NewRedisAdvisoryStore(store *cache.RedisStore, ttl time.Duration) *RedisAdvisoryStore {
	return &RedisAdvisoryStore{store: store, ttl: ttl}
}

func (s *RedisAdvisoryStore) SaveBlocked(ctx context.Context, calendarID string, blocked map[string][]feed.Segment) error {
	return s.store.Save(ctx, calendarID, blocked, s.ttl)
}

func (s *RedisAdvisoryStore) LoadBlocked(ctx context.Context, calendarID string) (map[string][]feed.Segment, error) {
	blocked := map[string][]feed.Segment{}
	if _, err := s.store.Load(ctx, calendarID, &blocked); err != nil {
		return nil, err
	}
	return blocked, nil
}
