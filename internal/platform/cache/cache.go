// Package cache is a small JSON read-through cache over Redis for reference
// data (branches, doctor directory). A nil *Cache is a valid, always-missing
// cache so callers never branch on whether Redis is configured.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "portal:"

type Cache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func New(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{redis: client, ttl: ttl, logger: logger}
}

// Connect parses a redis:// URL and pings the server. An empty URL returns a
// nil client.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}
	return client, nil
}

func (c *Cache) key(name string) string {
	return keyPrefix + name
}

// GetJSON decodes the cached value for name into dst. It reports false on a
// miss. Redis failures are logged and treated as misses.
func (c *Cache) GetJSON(ctx context.Context, name string, dst any) bool {
	if c == nil {
		return false
	}
	data, err := c.redis.Get(ctx, c.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", name).Msg("cache get failed")
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Warn().Err(err).Str("key", name).Msg("cache entry corrupt")
		return false
	}
	return true
}

// SetJSON stores v under name with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, name string, v any) {
	if c == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", name).Msg("cache marshal failed")
		return
	}
	if err := c.redis.Set(ctx, c.key(name), data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", name).Msg("cache set failed")
	}
}

func (c *Cache) Delete(ctx context.Context, names ...string) {
	if c == nil || len(names) == 0 {
		return
	}
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = c.key(n)
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Strs("keys", names).Msg("cache delete failed")
	}
}
