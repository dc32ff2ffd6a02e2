package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"brokle/internal/infrastructure/database"

	"github.com/redis/go-redis/v9"
)

// CacheRepository implements read-through caching for rig config and
// batch statistics, plus submission throttling, over Redis.
type CacheRepository struct {
	db *database.RedisDB
}

// NewCacheRepository creates a new cache repository
func NewCacheRepository(db *database.RedisDB) *CacheRepository {
	return &CacheRepository{
		db: db,
	}
}

// Set stores a value in cache with expiration
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	if err := r.db.Set(ctx, key, data, expiration); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	return nil
}

// Get retrieves a value from cache
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := r.db.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to get cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}

	return nil
}

// Delete removes keys from cache
func (r *CacheRepository) Delete(ctx context.Context, keys ...string) error {
	return r.db.Delete(ctx, keys...)
}

// Exists checks if key exists in cache
func (r *CacheRepository) Exists(ctx context.Context, key string) (bool, error) {
	count, err := r.db.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetHash stores hash fields
func (r *CacheRepository) SetHash(ctx context.Context, key string, fields map[string]interface{}) error {
	values := make([]interface{}, 0, len(fields)*2)
	for field, value := range fields {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal hash field %s: %w", field, err)
		}
		values = append(values, field, string(data))
	}

	return r.db.HSet(ctx, key, values...)
}

// GetHash retrieves hash field
func (r *CacheRepository) GetHash(ctx context.Context, key, field string, dest interface{}) error {
	data, err := r.db.HGet(ctx, key, field)
	if err != nil {
		return fmt.Errorf("failed to get hash field: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal hash value: %w", err)
	}

	return nil
}

// GetAllHash retrieves all hash fields
func (r *CacheRepository) GetAllHash(ctx context.Context, key string) (map[string]interface{}, error) {
	data, err := r.db.HGetAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get all hash fields: %w", err)
	}

	result := make(map[string]interface{})
	for field, value := range data {
		var obj interface{}
		if err := json.Unmarshal([]byte(value), &obj); err != nil {
			// If unmarshal fails, store as string
			result[field] = value
		} else {
			result[field] = obj
		}
	}

	return result, nil
}

// Increment atomically increments a counter
func (r *CacheRepository) Increment(ctx context.Context, key string) (int64, error) {
	return r.db.Increment(ctx, key)
}

// IncrementBy atomically increments a counter by value
func (r *CacheRepository) IncrementBy(ctx context.Context, key string, value int64) (int64, error) {
	return r.db.IncrementBy(ctx, key, value)
}

// SetExpire sets expiration for a key
func (r *CacheRepository) SetExpire(ctx context.Context, key string, expiration time.Duration) error {
	return r.db.Expire(ctx, key, expiration)
}

// AddToSortedSet adds members to sorted set (for rankings, leaderboards)
func (r *CacheRepository) AddToSortedSet(ctx context.Context, key string, score float64, member string) error {
	return r.db.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
}

// GetSortedSetRange gets members from sorted set
func (r *CacheRepository) GetSortedSetRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.db.ZRange(ctx, key, start, stop)
}

// Test rig config caching

// CacheRigConfig caches the active test rig connection config so the PLC
// adapter and allocation engine don't hit the database on every lookup.
func (r *CacheRepository) CacheRigConfig(ctx context.Context, cfg interface{}, expiration time.Duration) error {
	return r.Set(ctx, r.rigConfigKey(), cfg, expiration)
}

// GetCachedRigConfig retrieves the cached rig config, if present.
func (r *CacheRepository) GetCachedRigConfig(ctx context.Context, dest interface{}) error {
	return r.Get(ctx, r.rigConfigKey(), dest)
}

// InvalidateRigConfig clears the cached rig config after a config upload.
func (r *CacheRepository) InvalidateRigConfig(ctx context.Context) error {
	return r.Delete(ctx, r.rigConfigKey())
}

// Batch statistics caching

// CacheBatchStatistics caches a batch's computed pass/fail/in-progress
// counts so repeated dashboard polls don't recompute them from raw outcomes
// on every request.
func (r *CacheRepository) CacheBatchStatistics(ctx context.Context, batchID string, stats interface{}, expiration time.Duration) error {
	return r.Set(ctx, r.batchStatsKey(batchID), stats, expiration)
}

// GetCachedBatchStatistics retrieves cached batch statistics.
func (r *CacheRepository) GetCachedBatchStatistics(ctx context.Context, batchID string, dest interface{}) error {
	return r.Get(ctx, r.batchStatsKey(batchID), dest)
}

// InvalidateBatchStatistics drops the cached statistics for a batch.
func (r *CacheRepository) InvalidateBatchStatistics(ctx context.Context, batchID string) error {
	return r.Delete(ctx, r.batchStatsKey(batchID))
}

// Execution submission throttling

// CheckExecutionRateLimit checks whether the caller is within the allowed
// rate of test execution submissions for the given window.
func (r *CacheRepository) CheckExecutionRateLimit(ctx context.Context, identifier string, limit int64, window time.Duration) (bool, int64, error) {
	key := r.executionThrottleKey(identifier)

	current, err := r.db.Increment(ctx, key)
	if err != nil {
		return false, 0, fmt.Errorf("failed to increment execution rate limit counter: %w", err)
	}

	// Set expiration on first request
	if current == 1 {
		if err := r.db.Expire(ctx, key, window); err != nil {
			return false, current, fmt.Errorf("failed to set execution rate limit expiration: %w", err)
		}
	}

	allowed := current <= limit
	return allowed, current, nil
}

// Helper methods for key generation

func (r *CacheRepository) rigConfigKey() string {
	return "fat:rig_config"
}

func (r *CacheRepository) batchStatsKey(batchID string) string {
	return "fat:batch_stats:" + batchID
}

func (r *CacheRepository) executionThrottleKey(identifier string) string {
	return "fat:execution_throttle:" + identifier
}
