package database

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack"
)

const (
	// Cache key prefixes
	CacheKeySettings  = "hotspotbill:settings"
	CacheKeyRouter    = "hotspotbill:router:"
	CacheKeyDashboard = "hotspotbill:dashboard"
	CacheKeyBlacklist = "hotspotbill:blacklist:"

	// Cache TTLs
	CacheTTLSettings  = 5 * time.Minute
	CacheTTLRouter    = 2 * time.Minute
	CacheTTLDashboard = 30 * time.Second
)

// ErrCacheMiss is returned when the key is absent or Redis is not connected.
var ErrCacheMiss = errors.New("cache miss")

// CacheGet retrieves a value from Redis cache and unmarshals it into dest
func CacheGet(key string, dest interface{}) error {
	if Redis == nil {
		return ErrCacheMiss
	}
	ctx := context.Background()
	data, err := Redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(data, dest)
}

// CacheSet stores a value in Redis cache with TTL
func CacheSet(key string, value interface{}, ttl time.Duration) error {
	if Redis == nil {
		return nil
	}
	ctx := context.Background()
	data, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	return Redis.Set(ctx, key, data, ttl).Err()
}

// CacheDelete removes a key from Redis cache
func CacheDelete(keys ...string) error {
	if len(keys) == 0 || Redis == nil {
		return nil
	}
	ctx := context.Background()
	return Redis.Del(ctx, keys...).Err()
}

// CacheDeletePattern deletes all keys matching a pattern (use with caution)
func CacheDeletePattern(pattern string) error {
	if Redis == nil {
		return nil
	}
	ctx := context.Background()
	iter := Redis.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return Redis.Del(ctx, keys...).Err()
	}
	return nil
}

// InvalidateSettingsCache clears settings cache
func InvalidateSettingsCache() {
	CacheDelete(CacheKeySettings)
}

// InvalidateDashboardCache clears cached dashboard counters
func InvalidateDashboardCache() {
	CacheDelete(CacheKeyDashboard)
}
