package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"memoryhub/internal/config"
	"memoryhub/internal/logging"
)

// RedisCache is a Cache backed by go-redis, TTLs per Kind sourced from
// config.CacheConfig, grounded on the teacher's RedisSkillsCache (scan-based
// invalidation instead of the blocking KEYS command). The zero value has no
// client and is not usable; NewRedisCache returns an error when the initial
// ping fails, and cmd/memoryhubd then falls back to NoopCache.
type RedisCache struct {
	client redis.UniversalClient
	ttls   map[Kind]time.Duration
}

// NewRedisCache dials Redis and pings it; returns NoopCache when disabled in
// config so every caller can depend on the Cache interface unconditionally.
func NewRedisCache(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	if !cfg.Enabled {
		return NoopCache{}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache ping: %w", err)
	}
	return &RedisCache{
		client: client,
		ttls: map[Kind]time.Duration{
			KindEmbedding: cfg.TTLEmbedding,
			KindEntity:    cfg.TTLEntity,
			KindMemory:    cfg.TTLMemory,
			KindMetadata:  cfg.TTLMetadata,
			KindSearch:    cfg.TTLSearch,
			KindList:      cfg.TTLList,
		},
	}, nil
}

func (c *RedisCache) key(kind Kind, key string) string {
	return fmt.Sprintf("memoryhub:%s:%s", kind, key)
}

func (c *RedisCache) Get(ctx context.Context, kind Kind, key string, dest any) (bool, error) {
	val, err := c.client.Get(ctx, c.key(kind, key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		logging.FromContext(ctx).Debug().Err(err).Str("key", key).Msg("cache get error")
		return false, nil
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, kind Kind, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	ttl := c.ttls[kind]
	if err := c.client.Set(ctx, c.key(kind, key), data, ttl).Err(); err != nil {
		logging.FromContext(ctx).Debug().Err(err).Str("key", key).Msg("cache set error")
		return err
	}
	return nil
}

// InvalidatePattern deletes every key matching pattern using SCAN rather
// than KEYS, so invalidation never blocks the Redis event loop on a large
// keyspace (§4.3).
func (c *RedisCache) InvalidatePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, "memoryhub:*:"+pattern, 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 200 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.client.Del(ctx, keys...).Err()
	}
	return nil
}

func (c *RedisCache) Close() error { return c.client.Close() }

// TextHash derives a stable cache key component from free-form query text
// (64-bit FNV-1a).
func TextHash(s string) string {
	var h uint64 = 14695981039346656037 // FNV-1a offset basis
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return fmt.Sprintf("%x", h)
}
