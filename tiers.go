package mediacache

import (
	"context"
	"errors"
	"log"

	"mediacache/common"
)

// --- Key Classification ---

// KeyClass decides which tiers a write reaches.
type KeyClass int

const (
	// KeyClassDefault goes to memory and the durable tier.
	KeyClassDefault KeyClass = iota
	// KeyClassTemporary goes to memory and the session tier only.
	KeyClassTemporary
	// KeyClassImportant goes to every tier.
	KeyClassImportant
)

// DefaultProtectedPrefixes lists key prefixes that eviction and clearing must
// never touch. They cover authentication/session tokens owned by collaborators
// outside this subsystem.
var DefaultProtectedPrefixes = []string{"auth-", "sb-", "session-"}

// temporaryPrefixes and importantPrefixes drive classify. Everything else is
// KeyClassDefault.
var (
	temporaryPrefixes = []string{TempKeyPrefix, "preload-"}
	importantPrefixes = []string{ImageKeyPrefix, "blob-", "auth-", "sb-"}
)

const defaultEvictFraction = 0.25

// TieredStore chains the in-memory tier with an optional session tier
// (volatile, shared) and an optional durable tier (on disk) behind one
// get/set/remove interface. Reads promote hits toward the faster tiers;
// writes fan out according to key class. Quota failures on any tier trigger
// an eviction pass over that tier's oldest unprotected entries followed by a
// single retry; a second failure drops the write and the caller proceeds as
// if uncached.
type TieredStore struct {
	memory  *memoryStore
	session Store // may be nil
	durable Store // may be nil

	protected     []string
	evictFraction float64
	locker        *KeyLockManager
}

// TieredStoreOptions configures a TieredStore.
type TieredStoreOptions struct {
	// MemoryCapacity bounds the in-memory tier. 0 means unbounded.
	MemoryCapacity int
	// ProtectedPrefixes overrides DefaultProtectedPrefixes when non-nil.
	ProtectedPrefixes []string
	// EvictFraction is the share of a tier's unprotected entries removed per
	// eviction pass. Defaults to 0.25.
	EvictFraction float64
}

// NewTieredStore creates the tier chain. Both session and durable may be nil;
// the memory tier is always present.
func NewTieredStore(session, durable Store, opts TieredStoreOptions) *TieredStore {
	protected := opts.ProtectedPrefixes
	if protected == nil {
		protected = DefaultProtectedPrefixes
	}
	fraction := opts.EvictFraction
	if fraction <= 0 || fraction >= 1 {
		fraction = defaultEvictFraction
	}
	return &TieredStore{
		memory:        NewMemoryStore(opts.MemoryCapacity).(*memoryStore),
		session:       session,
		durable:       durable,
		protected:     protected,
		evictFraction: fraction,
		locker:        NewKeyLockManager(),
	}
}

// Get checks memory, then session, then durable, promoting the value toward
// the front of the chain on a hit. Returns common.ErrNotFound when the key is
// absent everywhere.
func (t *TieredStore) Get(ctx context.Context, key string) (string, error) {
	if v, err := t.memory.Get(ctx, key); err == nil {
		return v, nil
	}

	if t.session != nil {
		v, err := t.session.Get(ctx, key)
		if err == nil {
			t.setTier(ctx, t.memory, "memory", key, v)
			return v, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			log.Printf("WARN: session tier read failed for key '%s': %v", key, err)
		}
	}

	if t.durable != nil {
		v, err := t.durable.Get(ctx, key)
		if err == nil {
			if t.session != nil {
				t.setTier(ctx, t.session, "session", key, v)
			}
			t.setTier(ctx, t.memory, "memory", key, v)
			return v, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			log.Printf("WARN: durable tier read failed for key '%s': %v", key, err)
		}
	}

	return "", common.ErrNotFound
}

// Set writes through the tiers selected by the key's class. Storage is always
// best-effort: tier failures are logged and swallowed, never surfaced, so a
// caller can treat a completed Set as "cached if possible".
func (t *TieredStore) Set(ctx context.Context, key, value string) {
	t.locker.Lock(key)
	defer t.locker.Unlock(key)

	t.setTier(ctx, t.memory, "memory", key, value)

	switch t.classify(key) {
	case KeyClassTemporary:
		if t.session != nil {
			t.setTier(ctx, t.session, "session", key, value)
		}
	case KeyClassImportant:
		if t.session != nil {
			t.setTier(ctx, t.session, "session", key, value)
		}
		if t.durable != nil {
			t.setTier(ctx, t.durable, "durable", key, value)
		}
	default:
		if t.durable != nil {
			t.setTier(ctx, t.durable, "durable", key, value)
		}
	}
}

// Remove deletes the key from every tier.
func (t *TieredStore) Remove(ctx context.Context, key string) error {
	t.locker.Lock(key)
	defer t.locker.Unlock(key)

	var firstErr error
	for _, tier := range t.tiers() {
		if err := tier.store.Remove(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Clear removes every unprotected key from every tier. Protected keys are left
// intact. Clear is idempotent.
func (t *TieredStore) Clear(ctx context.Context) error {
	return t.clearMatching(ctx, func(string) bool { return true })
}

// ClearByPrefix removes keys matching any of the given prefixes from every
// tier. Keys matching a protected prefix are never removed, even when they
// also match a requested prefix.
func (t *TieredStore) ClearByPrefix(ctx context.Context, prefixes ...string) error {
	if len(prefixes) == 0 {
		return nil
	}
	return t.clearMatching(ctx, func(key string) bool {
		return matchesAnyPrefix(key, prefixes)
	})
}

func (t *TieredStore) clearMatching(ctx context.Context, match func(string) bool) error {
	var firstErr error
	for _, tier := range t.tiers() {
		keys, err := tier.store.Keys(ctx)
		if err != nil {
			log.Printf("WARN: listing %s tier for clear failed: %v", tier.name, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, key := range keys {
			if t.isProtected(key) || !match(key) {
				continue
			}
			if err := tier.store.Remove(ctx, key); err != nil {
				log.Printf("WARN: clearing key '%s' from %s tier failed: %v", key, tier.name, err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

// Stats reports the memory tier's operation counters.
func (t *TieredStore) Stats() Stats {
	return t.memory.stats()
}

// Len reports the entry count of the named tier ("memory", "session",
// "durable"). Unknown or absent tiers report zero.
func (t *TieredStore) Len(ctx context.Context, tierName string) int {
	for _, tier := range t.tiers() {
		if tier.name != tierName {
			continue
		}
		n, err := tier.store.Len(ctx)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// TierKeys lists the keys of the named tier, oldest first.
func (t *TieredStore) TierKeys(ctx context.Context, tierName string) []string {
	for _, tier := range t.tiers() {
		if tier.name != tierName {
			continue
		}
		keys, err := tier.store.Keys(ctx)
		if err != nil {
			return nil
		}
		return keys
	}
	return nil
}

// --- internals ---

type namedTier struct {
	store Store
	name  string
}

func (t *TieredStore) tiers() []namedTier {
	out := []namedTier{{t.memory, "memory"}}
	if t.session != nil {
		out = append(out, namedTier{t.session, "session"})
	}
	if t.durable != nil {
		out = append(out, namedTier{t.durable, "durable"})
	}
	return out
}

func (t *TieredStore) classify(key string) KeyClass {
	switch {
	case matchesAnyPrefix(key, temporaryPrefixes):
		return KeyClassTemporary
	case matchesAnyPrefix(key, importantPrefixes):
		return KeyClassImportant
	default:
		return KeyClassDefault
	}
}

func (t *TieredStore) isProtected(key string) bool {
	return matchesAnyPrefix(key, t.protected)
}

// setTier writes one tier, running the quota-recovery pass when needed:
// evict the oldest unprotected slice of the tier, then retry exactly once.
// A write that still fails is dropped with a log line.
func (t *TieredStore) setTier(ctx context.Context, tier Store, tierName, key, value string) {
	err := tier.Set(ctx, key, value)
	if err == nil {
		return
	}
	if !errors.Is(err, common.ErrQuotaExceeded) {
		log.Printf("WARN: %s tier write failed for key '%s': %v", tierName, key, err)
		return
	}

	evicted := t.evictOldest(ctx, tier, tierName)
	log.Printf("INFO: %s tier quota exceeded, evicted %d entries before retrying key '%s'", tierName, evicted, key)

	if err := tier.Set(ctx, key, value); err != nil {
		// Best-effort caching: the caller proceeds as if uncached.
		log.Printf("WARN: %s tier write for key '%s' dropped after eviction retry: %v", tierName, key, err)
	}
}

// evictOldest removes the oldest evictFraction share of the tier's
// unprotected entries (at least one). Protected keys are skipped even when
// they are the oldest entries in the tier.
func (t *TieredStore) evictOldest(ctx context.Context, tier Store, tierName string) int {
	keys, err := tier.Keys(ctx)
	if err != nil {
		log.Printf("WARN: listing %s tier for eviction failed: %v", tierName, err)
		return 0
	}

	candidates := make([]string, 0, len(keys))
	for _, key := range keys {
		if !t.isProtected(key) {
			candidates = append(candidates, key)
		}
	}
	if len(candidates) == 0 {
		return 0
	}

	n := int(float64(len(candidates)) * t.evictFraction)
	if n < 1 {
		n = 1
	}

	evicted := 0
	for _, key := range candidates[:n] {
		if err := tier.Remove(ctx, key); err != nil {
			log.Printf("WARN: evicting key '%s' from %s tier failed: %v", key, tierName, err)
			continue
		}
		evicted++
	}
	return evicted
}
