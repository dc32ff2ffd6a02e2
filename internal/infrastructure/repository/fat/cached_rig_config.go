package fat

import (
	"context"
	"time"

	"brokle/internal/core/domain/fat"
	redisRepo "brokle/internal/infrastructure/repository/redis"
)

// rigConfigCacheTTL bounds how stale a cached rig config can get before a
// write through SaveTestRigConfig is required to refresh it.
const rigConfigCacheTTL = 10 * time.Minute

// cachedRigConfigStore wraps a RigConfigStore with a Redis read-through
// cache, so the allocation engine doesn't hit Postgres on every batch
// submission for a config that only changes when an operator uploads one.
type cachedRigConfigStore struct {
	store RigConfigStore
	cache *redisRepo.CacheRepository
}

// NewCachedRigConfigStore wraps store with cache-aside reads through cache.
// Cache misses and cache errors both fall back to store transparently.
func NewCachedRigConfigStore(store RigConfigStore, cache *redisRepo.CacheRepository) RigConfigStore {
	return &cachedRigConfigStore{store: store, cache: cache}
}

func (c *cachedRigConfigStore) GetTestRigConfig(ctx context.Context) (fat.TestRigConfig, error) {
	var cfg fat.TestRigConfig
	if err := c.cache.GetCachedRigConfig(ctx, &cfg); err == nil {
		return cfg, nil
	}

	cfg, err := c.store.GetTestRigConfig(ctx)
	if err != nil {
		return fat.TestRigConfig{}, err
	}

	_ = c.cache.CacheRigConfig(ctx, cfg, rigConfigCacheTTL)
	return cfg, nil
}

func (c *cachedRigConfigStore) SaveTestRigConfig(ctx context.Context, cfg fat.TestRigConfig) error {
	if err := c.store.SaveTestRigConfig(ctx, cfg); err != nil {
		return err
	}
	_ = c.cache.InvalidateRigConfig(ctx)
	return nil
}
