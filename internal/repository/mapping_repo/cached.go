package mapping_repo

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 30 * time.Second
)

// CachedStore keeps recently resolved entries in memory in front of another
// Store. Hits are process-local and live at most ttl, so a rewrite made by
// another process shows up once the cached entry expires. Misses are not
// cached.
type CachedStore struct {
	next  Store
	cache *expirable.LRU[string, string]
}

func NewCachedStore(next Store, size int, ttl time.Duration) *CachedStore {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &CachedStore{
		next:  next,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func (s *CachedStore) Get(ctx context.Context, id string) (string, bool, error) {
	if url, ok := s.cache.Get(id); ok {
		return url, true, nil
	}

	url, found, err := s.next.Get(ctx, id)
	if err != nil || !found {
		return url, found, err
	}
	s.cache.Add(id, url)

	return url, true, nil
}

func (s *CachedStore) Put(ctx context.Context, id string, url string) error {
	if err := s.next.Put(ctx, id, url); err != nil {
		s.cache.Remove(id)
		return err
	}
	s.cache.Add(id, url)

	return nil
}

func (s *CachedStore) All(ctx context.Context) (map[string]string, error) {
	return s.next.All(ctx)
}
