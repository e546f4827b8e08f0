// Package redis implements the mediacache session tier on Redis. Entries are
// plain string keys with an optional TTL; a sorted-set index keyed by first
// write time gives the tiered adapter its oldest-first eviction ordering.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"mediacache"
)

// client implements mediacache.Store using Redis.
type client struct {
	rdb     *redis.Client
	ns      string
	ttl     time.Duration
	maxKeys int64
}

// Ensure client implements mediacache.Store.
var _ mediacache.Store = (*client)(nil)

// Options holds configuration for the Redis client.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Namespace prefixes every stored key so several applications can share
	// one Redis. Defaults to "mediacache".
	Namespace string
	// TTL expires entries; 0 keeps them until evicted.
	TTL time.Duration
	// MaxKeys, when > 0, makes Set report quota exhaustion once the tier
	// holds that many keys, handing eviction policy to the tiered adapter.
	MaxKeys int64
}

// NewClient creates a new Redis session-tier store.
func NewClient(opts Options) (mediacache.Store, func(), error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	// Ping Redis to check connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	ns := opts.Namespace
	if ns == "" {
		ns = "mediacache"
	}

	log.Println("Redis session store initialized successfully.")
	cleanup := func() {
		if err := rdb.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
		}
	}
	return &client{rdb: rdb, ns: ns, ttl: opts.TTL, maxKeys: opts.MaxKeys}, cleanup, nil
}

func (c *client) dataKey(key string) string { return c.ns + ":v:" + key }
func (c *client) indexKey() string          { return c.ns + ":index" }

func (c *client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, c.dataKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// The index may still carry keys whose values expired; drop lazily.
		c.rdb.ZRem(ctx, c.indexKey(), key)
		return "", mediacache.ErrNotFound
	} else if err != nil {
		return "", fmt.Errorf("redis Get error for key '%s': %w", key, err)
	}
	return val, nil
}

func (c *client) Set(ctx context.Context, key, value string) error {
	if c.maxKeys > 0 {
		exists, err := c.rdb.Exists(ctx, c.dataKey(key)).Result()
		if err != nil {
			return fmt.Errorf("redis Exists error for key '%s': %w", key, err)
		}
		if exists == 0 {
			n, err := c.rdb.ZCard(ctx, c.indexKey()).Result()
			if err != nil {
				return fmt.Errorf("redis ZCard error: %w", err)
			}
			if n >= c.maxKeys {
				return mediacache.ErrQuotaExceeded
			}
		}
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, c.dataKey(key), value, c.ttl)
	// NX keeps the original insertion time on overwrite, preserving age order.
	pipe.ZAddNX(ctx, c.indexKey(), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: key,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis Set error for key '%s': %w", key, err)
	}
	return nil
}

func (c *client) Remove(ctx context.Context, key string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, c.dataKey(key))
	pipe.ZRem(ctx, c.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis Del error for key '%s': %w", key, err)
	}
	return nil
}

func (c *client) Clear(ctx context.Context) error {
	keys, err := c.Keys(ctx)
	if err != nil {
		return err
	}
	pipe := c.rdb.TxPipeline()
	for _, key := range keys {
		pipe.Del(ctx, c.dataKey(key))
	}
	pipe.Del(ctx, c.indexKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis Clear error: %w", err)
	}
	return nil
}

// Keys returns stored keys oldest-first, per the index sorted set.
func (c *client) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.rdb.ZRange(ctx, c.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ZRange error: %w", err)
	}
	return keys, nil
}

func (c *client) Len(ctx context.Context) (int, error) {
	n, err := c.rdb.ZCard(ctx, c.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ZCard error: %w", err)
	}
	return int(n), nil
}

func (c *client) Close() error {
	return c.rdb.Close()
}
