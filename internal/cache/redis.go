package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/logging"
)

const defaultRedisPrefix = "cybersponse:cache:"

// RedisCache stores entries in Redis and lets Redis expire them.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger logging.Logger
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL, prefix string, logger logging.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &RedisCache{client: client, prefix: prefix, logger: logger}, nil
}

// Get retrieves key from Redis.
func (rc *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	data, err := rc.client.Get(ctx, rc.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			rc.logger.Warn("redis cache get error", "key", key, "error", err)
		}
		return nil, false
	}
	return data, true
}

// Set stores key with ttl.
func (rc *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := rc.client.Set(ctx, rc.prefix+key, value, ttl).Err(); err != nil {
		rc.logger.Warn("redis cache set error", "key", key, "error", err)
	}
}

// Delete removes key.
func (rc *RedisCache) Delete(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := rc.client.Del(ctx, rc.prefix+key).Err(); err != nil {
		rc.logger.Warn("redis cache delete error", "key", key, "error", err)
	}
}

// Clear removes every key under the prefix.
func (rc *RedisCache) Clear(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	keys, err := rc.client.Keys(ctx, rc.prefix+"*").Result()
	if err != nil {
		rc.logger.Warn("redis cache clear error", "error", err)
		return
	}

	if len(keys) > 0 {
		if err := rc.client.Del(ctx, keys...).Err(); err != nil {
			rc.logger.Warn("redis cache clear delete error", "error", err)
		}
	}
}

// Close closes the Redis connection.
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
