package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
)

const (
	trainCacheKeyPrefix = "catalog:train:"
	defaultCatalogTTL   = 5 * time.Minute
)

// CacheClient is the subset of go-redis the catalog cache needs
type CacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedCatalogRepository wraps CatalogRepository with Redis caching.
// Cache failures fall through to the wrapped repository.
type CachedCatalogRepository struct {
	repo  CatalogRepository
	cache CacheClient
	ttl   time.Duration
}

// NewCachedCatalogRepository creates a new CachedCatalogRepository
func NewCachedCatalogRepository(repo CatalogRepository, cache CacheClient, ttl time.Duration) *CachedCatalogRepository {
	if ttl <= 0 {
		ttl = defaultCatalogTTL
	}
	return &CachedCatalogRepository{repo: repo, cache: cache, ttl: ttl}
}

// GetTrain reads through the cache
func (r *CachedCatalogRepository) GetTrain(ctx context.Context, trainID string) (*domain.Train, error) {
	cacheKey := trainCacheKeyPrefix + trainID

	cached, err := r.cache.Get(ctx, cacheKey).Result()
	if err == nil && cached != "" {
		var train domain.Train
		if err := json.Unmarshal([]byte(cached), &train); err == nil {
			return &train, nil
		}
	}

	train, err := r.repo.GetTrain(ctx, trainID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(train); err == nil {
		_ = r.cache.Set(ctx, cacheKey, data, r.ttl).Err()
	}
	return train, nil
}

// Invalidate drops a cached train after a catalog change
func (r *CachedCatalogRepository) Invalidate(ctx context.Context, trainID string) error {
	return r.cache.Del(ctx, trainCacheKeyPrefix+trainID).Err()
}

var _ CatalogRepository = (*CachedCatalogRepository)(nil)
