package search

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/redis"
)

const defaultKeyPrefix = "searchsync:results:"

// CacheConfig tunes the result cache.
type CacheConfig struct {
	TTL time.Duration
	// Prefix namespaces the Redis keys; Invalidate removes everything
	// under it.
	Prefix string
}

// Cache stores search responses in Redis. Concurrent misses for the same key
// share one engine call.
type Cache struct {
	client *pkgredis.Client
	ttl    time.Duration
	prefix string
	group  singleflight.Group
	prom   *metrics.Metrics
	logger *slog.Logger
}

// NewCache creates a Cache. prom may be nil.
func NewCache(client *pkgredis.Client, cfg CacheConfig, prom *metrics.Metrics) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultKeyPrefix
	}
	return &Cache{
		client: client,
		ttl:    cfg.TTL,
		prefix: cfg.Prefix,
		prom:   prom,
		logger: slog.Default().With("component", "result-cache"),
	}
}

// Key hashes a request kind and its normalized parameters.
func Key(kind string, params any) string {
	raw, _ := json.Marshal(params)
	hash := sha256.Sum256(append([]byte(kind+":"), raw...))
	return fmt.Sprintf("%s:%x", kind, hash[:16])
}

func (c *Cache) get(ctx context.Context, key string, dst any) bool {
	key = c.prefix + key
	data, found, err := c.client.Get(ctx, key)
	if err != nil {
		c.logger.Error("cache get failed", "key", key, "error", err)
	}
	if !found {
		c.miss()
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return false
	}
	if c.prom != nil {
		c.prom.CacheHitsTotal.Inc()
	}
	return true
}

func (c *Cache) set(ctx context.Context, key string, v any) {
	key = c.prefix + key
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

func (c *Cache) miss() {
	if c.prom != nil {
		c.prom.CacheMissesTotal.Inc()
	}
}

// Invalidate drops every cached response. It runs after each successful
// sync job so searches see fresh documents.
func (c *Cache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.DeletePattern(ctx, c.prefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating result cache: %w", err)
	}
	c.logger.Info("result cache invalidated", "keys_deleted", deleted)
	return nil
}

// cached serves key from c or computes, stores and returns it. A nil c
// always computes.
func cached[T any](ctx context.Context, c *Cache, key string, compute func() (T, error)) (T, error) {
	if c == nil {
		return compute()
	}
	var hit T
	if c.get(ctx, key, &hit) {
		return hit, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		var again T
		if c.get(ctx, key, &again) {
			return again, nil
		}
		fresh, err := compute()
		if err != nil {
			return fresh, err
		}
		c.set(ctx, key, fresh)
		return fresh, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
