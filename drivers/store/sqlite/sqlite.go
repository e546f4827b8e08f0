// Package sqlite implements the mediacache durable tier on SQLite via sqlx.
// One table holds key, value and first-write timestamp; the timestamp gives
// the tiered adapter its oldest-first eviction ordering across restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"mediacache"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key       TEXT PRIMARY KEY,
	value     TEXT NOT NULL,
	stored_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_stored_at ON cache_entries(stored_at);
`

// Store implements mediacache.Store backed by a SQLite database file.
type Store struct {
	db         *sqlx.DB
	dsn        string
	maxEntries int
	closeMx    sync.Mutex
	closed     bool
}

// Ensure Store implements mediacache.Store.
var _ mediacache.Store = (*Store)(nil)

// NewStore opens (creating if needed) the SQLite-backed durable tier at dsn.
// maxEntries of 0 means unbounded; otherwise Set reports quota exhaustion
// once that many rows exist, handing eviction policy to the tiered adapter.
func NewStore(dsn string, maxEntries int) (*Store, func(), error) {
	log.Printf("Initializing SQLite durable store with DSN: %s", dsn)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sqlite connection: %w", err)
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	s := &Store{db: db, dsn: dsn, maxEntries: maxEntries}
	cleanup := func() {
		if err := s.Close(); err != nil {
			log.Printf("Error closing SQLite store: %v", err)
		}
	}
	log.Println("SQLite durable store initialized successfully.")
	return s, cleanup, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM cache_entries WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", mediacache.ErrNotFound
	} else if err != nil {
		return "", fmt.Errorf("sqlite Get error for key '%s': %w", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if s.maxEntries > 0 {
		var exists int
		if err := s.db.GetContext(ctx, &exists, `SELECT COUNT(1) FROM cache_entries WHERE key = ?`, key); err != nil {
			return fmt.Errorf("sqlite existence check for key '%s': %w", key, err)
		}
		if exists == 0 {
			n, err := s.count(ctx)
			if err != nil {
				return err
			}
			if n >= s.maxEntries {
				return mediacache.ErrQuotaExceeded
			}
		}
	}

	// Keep the original stored_at on overwrite so age ordering survives
	// value refreshes.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, stored_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite Set error for key '%s': %w", key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite Remove error for key '%s': %w", key, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("sqlite Clear error: %w", err)
	}
	return nil
}

// Keys returns stored keys oldest-first.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.SelectContext(ctx, &keys, `SELECT key FROM cache_entries ORDER BY stored_at ASC, key ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite Keys error: %w", err)
	}
	return keys, nil
}

func (s *Store) Len(ctx context.Context) (int, error) {
	return s.count(ctx)
}

func (s *Store) count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM cache_entries`); err != nil {
		return 0, fmt.Errorf("sqlite count error: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	s.closeMx.Lock()
	defer s.closeMx.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
