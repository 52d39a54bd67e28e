package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCacheNotAvailable = errors.New("cache not available")
	ErrCacheNotFound     = errors.New("cache key not found")
)

// CacheHelper provides common caching operations for repositories. All
// operations degrade gracefully when no Redis client is configured.
type CacheHelper struct {
	client *redis.Client
	prefix string
}

// NewCacheHelper creates a new cache helper instance.
func NewCacheHelper(client *redis.Client, prefix string) *CacheHelper {
	return &CacheHelper{
		client: client,
		prefix: prefix,
	}
}

// CacheConfig defines cache configuration for different data types.
type CacheConfig struct {
	TTL    time.Duration
	Prefix string
}

var (
	// Paper structures change rarely while a session runs.
	PaperCacheConfig = CacheConfig{
		TTL:    10 * time.Minute,
		Prefix: "paper:",
	}

	// Registration state is time-sensitive.
	RegistrationCacheConfig = CacheConfig{
		TTL:    1 * time.Minute,
		Prefix: "registration:",
	}

	// Session liveness keys written by the heartbeat.
	LivenessCacheConfig = CacheConfig{
		TTL:    2 * time.Minute,
		Prefix: "live:",
	}

	// Stats cache for expensive result queries.
	StatsCacheConfig = CacheConfig{
		TTL:    5 * time.Minute,
		Prefix: "stats:",
	}
)

// GetCacheKey generates a cache key with prefix.
func (c *CacheHelper) GetCacheKey(key string) string {
	return fmt.Sprintf("%s%s", c.prefix, key)
}

// Get retrieves and unmarshals data from cache.
func (c *CacheHelper) Get(ctx context.Context, key string, dest interface{}) error {
	if c.client == nil {
		return ErrCacheNotAvailable
	}

	cacheKey := c.GetCacheKey(key)
	data, err := c.client.Get(ctx, cacheKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheNotFound
		}
		return fmt.Errorf("cache get error: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}

	return nil
}

// Set marshals and stores data in cache.
func (c *CacheHelper) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return nil // Graceful degradation when cache not available
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}

	cacheKey := c.GetCacheKey(key)
	return c.client.Set(ctx, cacheKey, data, ttl).Err()
}

// SetString stores string data in cache.
func (c *CacheHelper) SetString(ctx context.Context, key string, value string, ttl time.Duration) error {
	if c.client == nil {
		return nil
	}

	cacheKey := c.GetCacheKey(key)
	return c.client.Set(ctx, cacheKey, value, ttl).Err()
}

// GetString retrieves string data from cache.
func (c *CacheHelper) GetString(ctx context.Context, key string) (string, error) {
	if c.client == nil {
		return "", ErrCacheNotAvailable
	}

	cacheKey := c.GetCacheKey(key)
	result, err := c.client.Get(ctx, cacheKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheNotFound
		}
		return "", fmt.Errorf("cache get string error: %w", err)
	}

	return result, nil
}

// Delete removes data from cache using a pipeline for multiple keys.
func (c *CacheHelper) Delete(ctx context.Context, keys ...string) error {
	if c.client == nil || len(keys) == 0 {
		return nil
	}

	cacheKeys := make([]string, len(keys))
	for i, key := range keys {
		cacheKeys[i] = c.GetCacheKey(key)
	}

	return c.client.Del(ctx, cacheKeys...).Err()
}

// Exists checks whether a key is present.
func (c *CacheHelper) Exists(ctx context.Context, key string) (bool, error) {
	if c.client == nil {
		return false, ErrCacheNotAvailable
	}

	n, err := c.client.Exists(ctx, c.GetCacheKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("cache exists error: %w", err)
	}
	return n > 0, nil
}

// Touch refreshes a key's TTL without rewriting the value. Used by the
// session heartbeat for liveness keys.
func (c *CacheHelper) Touch(ctx context.Context, key string, ttl time.Duration) error {
	if c.client == nil {
		return nil
	}

	return c.client.Expire(ctx, c.GetCacheKey(key), ttl).Err()
}

// CacheOrExecute returns the cached value for key, or executes fn, caches its
// result and stores it into dest. Cache failures fall through to fn.
func (c *CacheHelper) CacheOrExecute(ctx context.Context, key string, dest interface{}, ttl time.Duration, fn func() (interface{}, error)) error {
	if err := c.Get(ctx, key, dest); err == nil {
		return nil
	}

	value, err := fn()
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}

	_ = c.Set(ctx, key, value, ttl)
	return nil
}

// CacheManager coordinates per-domain helpers and cache lifecycle.
type CacheManager struct {
	client *redis.Client

	Paper        *CacheHelper
	Registration *CacheHelper
	Liveness     *CacheHelper
	Stats        *CacheHelper
}

// NewCacheManager creates a cache manager over the shared client.
func NewCacheManager(client *redis.Client) *CacheManager {
	return &CacheManager{
		client:       client,
		Paper:        NewCacheHelper(client, PaperCacheConfig.Prefix),
		Registration: NewCacheHelper(client, RegistrationCacheConfig.Prefix),
		Liveness:     NewCacheHelper(client, LivenessCacheConfig.Prefix),
		Stats:        NewCacheHelper(client, StatsCacheConfig.Prefix),
	}
}

// HealthCheck pings the cache backend.
func (m *CacheManager) HealthCheck(ctx context.Context) error {
	if m.client == nil {
		return ErrCacheNotAvailable
	}
	return m.client.Ping(ctx).Err()
}

// ClearAll removes every key managed by the exam service prefixes.
func (m *CacheManager) ClearAll(ctx context.Context) error {
	if m.client == nil {
		return nil
	}

	prefixes := []string{
		PaperCacheConfig.Prefix,
		RegistrationCacheConfig.Prefix,
		LivenessCacheConfig.Prefix,
		StatsCacheConfig.Prefix,
	}

	for _, prefix := range prefixes {
		keys, err := m.client.Keys(ctx, prefix+"*").Result()
		if err != nil {
			return fmt.Errorf("failed to list keys for prefix %s: %w", prefix, err)
		}
		if len(keys) > 0 {
			if err := m.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete keys for prefix %s: %w", prefix, err)
			}
		}
	}

	return nil
}
