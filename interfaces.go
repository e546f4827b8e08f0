// interfaces.go
// Core interfaces for mediacache: Store, ImageFetcher, Notifier, Saver,
// TruthSource. These are public and intended for use by callers and storage
// driver developers.

package mediacache

import (
	"context"
)

// Store defines the interface for a single storage tier. Implementations back
// the session tier (Redis) and the durable tier (SQLite, LevelDB); the memory
// tier ships with this package.
//
// Get must return common.ErrNotFound for absent keys. Set must return
// common.ErrQuotaExceeded when the tier is at capacity so the tiered adapter
// can run an eviction pass; any other Set error is treated as a dropped write.
// Keys returns all stored keys ordered oldest-write-first, which is the order
// the eviction pass consumes them in.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// ImageFetcher resolves a source URL to a binary payload. *Fetcher is the
// production implementation; the Preloader and Downloader depend only on this
// so tests can substitute a stub.
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Saver is the save-to-disk primitive handed a finished archive.
type Saver interface {
	Save(filename string, data []byte) error
}

// TruthSource lists the image URLs the source of truth currently knows about.
// Used by consistency diagnostics to find orphaned or missing cache entries.
type TruthSource interface {
	ImageURLs(ctx context.Context) ([]string, error)
}

// Stats holds cache operation counters for monitoring and hit/miss analysis.
type Stats struct {
	Counters map[string]int // Operation name to count
}
