package mediacache

import (
	"context"
	"log"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultBlobCacheSize bounds the number of distinct blobs retained in memory.
const DefaultBlobCacheSize = 400

// FetchFunc produces the payload for a cache key on a miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// BlobCache memoizes in-flight and completed image fetches by cache key.
//
// Concurrent callers for the same key are coalesced through singleflight so
// at most one underlying fetch runs per key; every waiter observes the same
// outcome. Completed payloads are retained in a fixed-capacity LRU; evicting
// a key also forgets its processed marker and drops the key from persistent
// storage. In-flight fetches are owned by the singleflight group, so eviction
// bookkeeping never interrupts a fetch that a caller is still awaiting.
type BlobCache struct {
	group     singleflight.Group
	blobs     *lru.Cache[string, []byte]
	processed sync.Map // key -> struct{}, keys whose fetch fully completed
	tiers     *TieredStore
}

// NewBlobCache creates a blob cache bounded to maxEntries distinct keys
// (DefaultBlobCacheSize when <= 0). tiers may be nil; when set, evicted keys
// are also removed from persistent storage.
func NewBlobCache(maxEntries int, tiers *TieredStore) (*BlobCache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultBlobCacheSize
	}
	c := &BlobCache{tiers: tiers}
	blobs, err := lru.NewWithEvict[string, []byte](maxEntries, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.blobs = blobs
	return c, nil
}

// GetOrFetch returns the cached payload for key, or runs fetch exactly once
// across all concurrent callers and caches the result. Every access touches
// the key in the LRU ordering.
func (c *BlobCache) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) ([]byte, error) {
	if b, ok := c.blobs.Get(key); ok {
		return b, nil
	}

	// The fetch runs on a detached context so that one caller's cancellation
	// does not fail the fetch for the other coalesced waiters.
	detached := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(key, func() (any, error) {
		if b, ok := c.blobs.Get(key); ok {
			return b, nil
		}
		b, err := fetch(detached)
		if err != nil {
			return nil, err
		}
		c.blobs.Add(key, b)
		c.processed.Store(key, struct{}{})
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Contains reports whether key currently holds a completed payload, without
// touching its LRU position.
func (c *BlobCache) Contains(key string) bool {
	return c.blobs.Contains(key)
}

// Processed reports whether key has ever completed a fetch and has not been
// evicted since.
func (c *BlobCache) Processed(key string) bool {
	_, ok := c.processed.Load(key)
	return ok
}

// Remove drops key from the cache, firing the same cleanup as an eviction.
func (c *BlobCache) Remove(key string) {
	c.blobs.Remove(key)
}

// Len reports the number of completed payloads currently retained.
func (c *BlobCache) Len() int {
	return c.blobs.Len()
}

// Keys lists retained keys from least to most recently used.
func (c *BlobCache) Keys() []string {
	return c.blobs.Keys()
}

// onEvict runs for every LRU eviction and explicit Remove: the processed
// marker is dropped so the URL can be re-fetched, and the persistent tiers
// shed their copy so the bound actually frees resources.
func (c *BlobCache) onEvict(key string, _ []byte) {
	c.processed.Delete(key)
	if c.tiers == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.tiers.Remove(ctx, key); err != nil {
		log.Printf("WARN: removing evicted blob key '%s' from tiers failed: %v", key, err)
	}
}
