package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// LocalConfig sizes the in-process cache.
type LocalConfig struct {
	MaxCostMB   int
	NumCounters int64
}

// LocalCache keeps entries in process memory. Invalidation only reaches this process,
// so it suits single-instance deployments.
type LocalCache struct {
	client *ristretto.Cache
}

// NewLocalCache builds a ristretto-backed RedirectCache.
func NewLocalCache(cfg LocalConfig) (*LocalCache, error) {
	maxCostMB := cfg.MaxCostMB
	if maxCostMB <= 0 {
		maxCostMB = 64
	}
	counters := cfg.NumCounters
	if counters <= 0 {
		counters = 1_000_000
	}

	client, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: counters,
		MaxCost:     int64(maxCostMB) * 1024 * 1024,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: build local cache: %w", err)
	}
	return &LocalCache{client: client}, nil
}

func (c *LocalCache) Get(_ context.Context, token string) (Entry, bool, error) {
	value, ok := c.client.Get(token)
	if !ok {
		return Entry{}, false, nil
	}
	entry, ok := value.(Entry)
	if !ok {
		return Entry{}, false, fmt.Errorf("cache: unexpected local value %T", value)
	}
	return entry, true, nil
}

func (c *LocalCache) Set(_ context.Context, token string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	cost := int64(len(token) + len(entry.Destination) + 8)
	c.client.SetWithTTL(token, entry, cost, ttl)
	// Sets are buffered; wait so the entry is visible to the next read.
	c.client.Wait()
	return nil
}

func (c *LocalCache) Delete(_ context.Context, token string) error {
	c.client.Del(token)
	return nil
}

// Close releases the cache's background goroutines.
func (c *LocalCache) Close() {
	c.client.Close()
}
