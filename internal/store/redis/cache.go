// Package redis hosts the fast PnL snapshot cache and the reader for
// indicator-engine structure documents. Both sit on the same Redis instance
// the indicator engine publishes to.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"exit-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	snapshotKeyPrefix = "pnl:live:"
	defaultTTL        = 30 * time.Second
	scanBatch         = 100
)

// CacheConfig configures the snapshot cache.
type CacheConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration // snapshot lifetime; default 30s
}

// Cache implements model.SnapshotCache on Redis. Writes go through a circuit
// breaker: when Redis flaps, Puts are dropped rather than stalling the
// monitor loop — the next cycle recomputes the snapshot anyway.
type Cache struct {
	client  *goredis.Client
	ttl     time.Duration
	breaker *Breaker
}

// Client returns the underlying Redis client for health checks.
func (c *Cache) Client() *goredis.Client { return c.client }

// NewCache connects and pings the server.
func NewCache(cfg CacheConfig) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	log.Printf("[redis] connected to %s (snapshot ttl %s)", cfg.Addr, ttl)
	return &Cache{
		client:  client,
		ttl:     ttl,
		breaker: NewBreaker(5, 10*time.Second),
	}, nil
}

func snapshotKey(orderRef string) string { return snapshotKeyPrefix + orderRef }

// Get returns the cached snapshot, or nil, nil when absent.
func (c *Cache) Get(ctx context.Context, orderRef string) (*model.PnlSnapshot, error) {
	data, err := c.client.Get(ctx, snapshotKey(orderRef)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get snapshot %s: %w", orderRef, err)
	}
	snap, err := model.SnapshotFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("redis snapshot %s: %w", orderRef, err)
	}
	return snap, nil
}

// Put stores a snapshot under the cache TTL. A breaker-open condition is not
// an error: the snapshot is ephemeral and the next cycle rewrites it.
func (c *Cache) Put(ctx context.Context, orderRef string, snap *model.PnlSnapshot) error {
	err := c.breaker.Do(func() error {
		return c.client.Set(ctx, snapshotKey(orderRef), snap.JSON(), c.ttl).Err()
	})
	if err == ErrBreakerOpen {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis put snapshot %s: %w", orderRef, err)
	}
	return nil
}

// Delete purges a cache entry. Deleting an absent entry is not an error.
func (c *Cache) Delete(ctx context.Context, orderRef string) error {
	if err := c.client.Del(ctx, snapshotKey(orderRef)).Err(); err != nil {
		return fmt.Errorf("redis del snapshot %s: %w", orderRef, err)
	}
	return nil
}

// Refs lists all cached order references via cursor SCAN, for orphan cleanup.
func (c *Cache) Refs(ctx context.Context) ([]string, error) {
	var refs []string
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, snapshotKeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan snapshots: %w", err)
		}
		for _, k := range keys {
			refs = append(refs, k[len(snapshotKeyPrefix):])
		}
		cursor = next
		if cursor == 0 {
			return refs, nil
		}
	}
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
