package mediacache

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"mediacache/common"
)

// --- Global Configuration ---

var (
	globalManager *Manager
	isConfigured  bool
	configMutex   sync.RWMutex
)

// Config holds everything needed to assemble a Manager. Session and Durable
// are storage drivers (see drivers/store); either may be nil. Zero values
// fall back to the package defaults.
type Config struct {
	Session Store
	Durable Store

	Notifier Notifier
	Saver    Saver

	// HTTPClient overrides the fetcher's client.
	HTTPClient *http.Client
	// ProxyURL enables the fetcher's proxy strategy.
	ProxyURL string
	// FetchTimeout bounds each fetch attempt.
	FetchTimeout time.Duration
	// Retry overrides DefaultRetryPolicy for all fetch paths.
	Retry *RetryPolicy

	// MemoryCapacity bounds the in-memory tier (0 = unbounded).
	MemoryCapacity int
	// BlobCacheSize bounds the blob LRU (0 = DefaultBlobCacheSize).
	BlobCacheSize int
	// ProtectedPrefixes overrides DefaultProtectedPrefixes when non-nil.
	ProtectedPrefixes []string

	DownloadConcurrency int64
	DownloadChunkSize   int
	PreloadBatchSize    int

	// Refresh and Reload are the invalidator's callbacks.
	Refresh      func(groups []string)
	Reload       func()
	RefreshDelay time.Duration
}

// Manager wires the whole subsystem together: tiered storage, blob cache,
// fetcher, preloader, downloader and invalidator, constructed once and
// shared. It replaces the module-scope singleton caches of ad hoc designs
// with one explicit, injectable object.
type Manager struct {
	Tiers       *TieredStore
	Blobs       *BlobCache
	Fetcher     *Fetcher
	Preloader   *Preloader
	Downloader  *Downloader
	Invalidator *Invalidator
}

// New assembles a Manager from cfg.
func New(cfg Config) (*Manager, error) {
	tiers := NewTieredStore(cfg.Session, cfg.Durable, TieredStoreOptions{
		MemoryCapacity:    cfg.MemoryCapacity,
		ProtectedPrefixes: cfg.ProtectedPrefixes,
	})

	blobs, err := NewBlobCache(cfg.BlobCacheSize, tiers)
	if err != nil {
		return nil, fmt.Errorf("build blob cache: %w", err)
	}

	fetcher := NewFetcher(tiers, blobs, FetcherOptions{
		Client:   cfg.HTTPClient,
		Policy:   cfg.Retry,
		Timeout:  cfg.FetchTimeout,
		ProxyURL: cfg.ProxyURL,
	})

	preloader := NewPreloader(fetcher, PreloaderOptions{
		BatchSize: cfg.PreloadBatchSize,
		Cached:    fetcher.Cached,
	})

	downloader := NewDownloader(fetcher, cfg.Notifier, cfg.Saver, DownloaderOptions{
		Concurrency: cfg.DownloadConcurrency,
		ChunkSize:   cfg.DownloadChunkSize,
	})

	invalidator := NewInvalidator(tiers, blobs, InvalidatorOptions{
		Refresh:      cfg.Refresh,
		Reload:       cfg.Reload,
		RefreshDelay: cfg.RefreshDelay,
	})

	return &Manager{
		Tiers:       tiers,
		Blobs:       blobs,
		Fetcher:     fetcher,
		Preloader:   preloader,
		Downloader:  downloader,
		Invalidator: invalidator,
	}, nil
}

// Configure sets up the package-level Manager. This MUST be called once
// during application initialization before using Default.
func Configure(cfg Config) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	m, err := New(cfg)
	if err != nil {
		return err
	}
	globalManager = m
	isConfigured = true
	log.Println("mediacache configured globally.")
	return nil
}

// Default returns the globally configured Manager.
func Default() (*Manager, error) {
	configMutex.RLock()
	defer configMutex.RUnlock()
	if !isConfigured {
		return nil, common.ErrNotConfigured
	}
	return globalManager, nil
}

// --- File Configuration ---

// FileConfig is the on-disk YAML configuration. It only carries settings —
// wiring drivers from it (Redis, SQLite, LevelDB) happens at the
// application's composition root, which is the only place allowed to import
// the driver packages.
type FileConfig struct {
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
		MaxKeys  int64  `yaml:"maxKeys"`
	} `yaml:"redis"`

	Durable struct {
		Driver     string `yaml:"driver"` // "sqlite" or "leveldb"
		Path       string `yaml:"path"`
		MaxEntries int    `yaml:"maxEntries"`
	} `yaml:"durable"`

	Fetch struct {
		ProxyURL string `yaml:"proxyUrl"`
		Timeout  string `yaml:"timeout"`
	} `yaml:"fetch"`

	Download struct {
		Concurrency int64  `yaml:"concurrency"`
		ChunkSize   int    `yaml:"chunkSize"`
		Dir         string `yaml:"dir"`
	} `yaml:"download"`

	Preload struct {
		BatchSize int `yaml:"batchSize"`
	} `yaml:"preload"`

	// parsed
	fetchTimeout time.Duration
	redisTTL     time.Duration
}

// LoadFileConfig reads and validates a YAML configuration file.
func LoadFileConfig(path string) (FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return FileConfig{}, err
	}

	if cfg.Fetch.Timeout != "" {
		d, err := time.ParseDuration(cfg.Fetch.Timeout)
		if err != nil {
			return FileConfig{}, fmt.Errorf("fetch.timeout: %w", err)
		}
		cfg.fetchTimeout = d
	}
	if cfg.Redis.TTL != "" {
		d, err := time.ParseDuration(cfg.Redis.TTL)
		if err != nil {
			return FileConfig{}, fmt.Errorf("redis.ttl: %w", err)
		}
		cfg.redisTTL = d
	}
	switch cfg.Durable.Driver {
	case "", "sqlite", "leveldb":
	default:
		return FileConfig{}, fmt.Errorf("durable.driver: unknown driver %q", cfg.Durable.Driver)
	}
	if cfg.Download.Dir == "" {
		cfg.Download.Dir = "."
	}
	return cfg, nil
}

// FetchTimeout returns the parsed fetch.timeout, or 0 when unset.
func (c FileConfig) FetchTimeout() time.Duration { return c.fetchTimeout }

// RedisTTL returns the parsed redis.ttl, or 0 when unset.
func (c FileConfig) RedisTTL() time.Duration { return c.redisTTL }
