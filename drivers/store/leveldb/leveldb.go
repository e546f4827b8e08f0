// Package leveldb implements the mediacache durable tier on goleveldb.
// Values live under an "e:" prefix and per-key first-write timestamps under
// "m:", so Keys can reconstruct the oldest-first eviction ordering after a
// restart without a separate index file.
package leveldb

import (
	"encoding/binary"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"context"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"mediacache"
)

const (
	entryPrefix = "e:"
	metaPrefix  = "m:"
)

// Store implements mediacache.Store backed by a LevelDB directory.
type Store struct {
	db         *leveldb.DB
	maxEntries int

	mu     sync.Mutex
	count  int
	closed bool
}

// Ensure Store implements mediacache.Store.
var _ mediacache.Store = (*Store)(nil)

// NewStore opens (creating if needed) the LevelDB-backed durable tier at
// path. maxEntries of 0 means unbounded; otherwise Set reports quota
// exhaustion once that many entries exist, handing eviction policy to the
// tiered adapter.
func NewStore(path string, maxEntries int) (*Store, func(), error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open leveldb at %q: %w", path, err)
	}

	s := &Store{db: db, maxEntries: maxEntries}
	if err := s.loadCount(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := s.Close(); err != nil {
			log.Printf("Error closing LevelDB store: %v", err)
		}
	}
	log.Printf("LevelDB durable store initialized at %q (%d entries).", path, s.count)
	return s, cleanup, nil
}

func (s *Store) loadCount() error {
	it := s.db.NewIterator(util.BytesPrefix([]byte(metaPrefix)), nil)
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("leveldb index scan: %w", err)
	}
	s.count = n
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	b, err := s.db.Get([]byte(entryPrefix+key), nil)
	if err == leveldb.ErrNotFound {
		return "", mediacache.ErrNotFound
	} else if err != nil {
		return "", fmt.Errorf("leveldb Get error for key '%s': %w", key, err)
	}
	return string(b), nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return mediacache.ErrStoreClosed
	}

	has, err := s.db.Has([]byte(entryPrefix+key), nil)
	if err != nil {
		return fmt.Errorf("leveldb Has error for key '%s': %w", key, err)
	}
	if !has && s.maxEntries > 0 && s.count >= s.maxEntries {
		return mediacache.ErrQuotaExceeded
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(entryPrefix+key), []byte(value))
	if !has {
		// Meta records the first write only, preserving age order on refresh.
		ts := make([]byte, 8)
		binary.BigEndian.PutUint64(ts, uint64(time.Now().UnixNano()))
		batch.Put([]byte(metaPrefix+key), ts)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb Set error for key '%s': %w", key, err)
	}
	if !has {
		s.count++
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return mediacache.ErrStoreClosed
	}

	has, err := s.db.Has([]byte(entryPrefix+key), nil)
	if err != nil {
		return fmt.Errorf("leveldb Has error for key '%s': %w", key, err)
	}
	if !has {
		return nil
	}
	batch := new(leveldb.Batch)
	batch.Delete([]byte(entryPrefix + key))
	batch.Delete([]byte(metaPrefix + key))
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb Remove error for key '%s': %w", key, err)
	}
	s.count--
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := new(leveldb.Batch)
	for _, key := range keys {
		batch.Delete([]byte(entryPrefix + key))
		batch.Delete([]byte(metaPrefix + key))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb Clear error: %w", err)
	}
	s.count = 0
	return nil
}

// Keys returns stored keys oldest-first by first-write timestamp.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	type aged struct {
		key string
		ts  uint64
	}
	it := s.db.NewIterator(util.BytesPrefix([]byte(metaPrefix)), nil)
	defer it.Release()

	var entries []aged
	for it.Next() {
		key := string(it.Key()[len(metaPrefix):])
		var ts uint64
		if len(it.Value()) == 8 {
			ts = binary.BigEndian.Uint64(it.Value())
		}
		entries = append(entries, aged{key: key, ts: ts})
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("leveldb Keys error: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ts != entries[j].ts {
			return entries[i].ts < entries[j].ts
		}
		return entries[i].key < entries[j].key
	})
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	return keys, nil
}

func (s *Store) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
