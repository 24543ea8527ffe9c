package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "redirect"

// RedisCache keeps entries in Redis so every instance shares them.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache returns a Redis-backed RedirectCache.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(token string) string {
	return c.prefix + ":" + token
}

func (c *RedisCache) Get(ctx context.Context, token string) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, c.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func (c *RedisCache) Set(ctx context.Context, token string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(token), raw, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, token string) error {
	return c.client.Del(ctx, c.key(token)).Err()
}
