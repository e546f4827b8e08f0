package mediacache

import (
	"context"
	"log"
	"sync"
	"time"
)

// --- Event-Driven Invalidation ---

// EventType identifies which domain mutation triggered an invalidation.
type EventType string

const (
	EventProjectChange EventType = "project_change"
	EventUserChange    EventType = "user_change"
	EventImageChange   EventType = "image_change"
	EventClientChange  EventType = "client_change"
	EventForceRefresh  EventType = "force_refresh"
)

// ScopeGlobal widens force_refresh to the whole cache.
const ScopeGlobal = "global"

// Event is one invalidation request. Scope is an opaque id from the domain
// layer (project id, client id, image URL for image_change) or ScopeGlobal.
type Event struct {
	Type  EventType
	Scope string
}

func (ev Event) dedupeKey() string {
	return string(ev.Type) + ":" + ev.Scope
}

// invalidationStrategy is the fixed per-event-type behavior: which logical
// query groups go stale, which tier key prefixes get purged, whether a
// delayed background refresh is scheduled and whether the full-reload
// callback fires.
type invalidationStrategy struct {
	staleGroups   []string
	purgePrefixes []string
	refresh       bool
	fullReload    func(Event) bool
}

var invalidationStrategies = map[EventType]invalidationStrategy{
	EventProjectChange: {
		staleGroups:   []string{"projects", "images"},
		purgePrefixes: []string{QueryKeyPrefix + "project-"},
		refresh:       true,
	},
	EventClientChange: {
		staleGroups:   []string{"clients", "projects"},
		purgePrefixes: []string{QueryKeyPrefix + "client-"},
		refresh:       true,
	},
	EventImageChange: {
		staleGroups:   []string{"images"},
		purgePrefixes: []string{QueryKeyPrefix + "image-"},
		refresh:       true,
	},
	EventUserChange: {
		staleGroups:   []string{"users", "clients", "projects", "images"},
		purgePrefixes: []string{QueryKeyPrefix},
		fullReload:    func(Event) bool { return true },
	},
	EventForceRefresh: {
		staleGroups:   []string{"users", "clients", "projects", "images"},
		purgePrefixes: []string{QueryKeyPrefix, ImageKeyPrefix, TempKeyPrefix},
		refresh:       true,
		fullReload:    func(ev Event) bool { return ev.Scope == "" || ev.Scope == ScopeGlobal },
	},
}

// DefaultRefreshDelay spaces the background re-fetch away from the mutation
// that caused it, so a burst of events does not stampede the source.
const DefaultRefreshDelay = 2 * time.Second

// InvalidatorOptions configures an Invalidator.
type InvalidatorOptions struct {
	// Refresh is called (after RefreshDelay) with the query groups an event
	// marked stale. Optional.
	Refresh func(groups []string)
	// Reload is called when an event warrants dropping all client state.
	// Optional.
	Reload func()
	// RefreshDelay overrides DefaultRefreshDelay.
	RefreshDelay time.Duration
}

// Invalidator applies domain-change events to the caches. Events are queued,
// deduplicated by type+scope, and drained by at most one goroutine at a time
// so invalidation passes never overlap.
type Invalidator struct {
	tiers *TieredStore
	blobs *BlobCache

	refreshFn    func(groups []string)
	reloadFn     func()
	refreshDelay time.Duration

	mu       sync.Mutex
	queue    []Event
	pending  map[string]struct{}
	draining bool
	stale    map[string]time.Time

	wg sync.WaitGroup
}

// NewInvalidator creates an Invalidator over the given caches. blobs may be
// nil.
func NewInvalidator(tiers *TieredStore, blobs *BlobCache, opts InvalidatorOptions) *Invalidator {
	delay := opts.RefreshDelay
	if delay <= 0 {
		delay = DefaultRefreshDelay
	}
	return &Invalidator{
		tiers:        tiers,
		blobs:        blobs,
		refreshFn:    opts.Refresh,
		reloadFn:     opts.Reload,
		refreshDelay: delay,
		pending:      make(map[string]struct{}),
		stale:        make(map[string]time.Time),
	}
}

// Invalidate queues the event and starts a drain if none is running.
// Duplicate events (same type and scope) already waiting are dropped.
func (inv *Invalidator) Invalidate(ev Event) {
	if _, known := invalidationStrategies[ev.Type]; !known {
		log.Printf("WARN: ignoring invalidation event with unknown type '%s'", ev.Type)
		return
	}

	inv.mu.Lock()
	key := ev.dedupeKey()
	if _, dup := inv.pending[key]; dup {
		inv.mu.Unlock()
		return
	}
	inv.pending[key] = struct{}{}
	inv.queue = append(inv.queue, ev)
	start := !inv.draining
	if start {
		inv.draining = true
		inv.wg.Add(1)
	}
	inv.mu.Unlock()

	if start {
		go inv.drain()
	}
}

// StaleGroups returns the query groups currently marked stale, for consumers
// that decide what to re-fetch.
func (inv *Invalidator) StaleGroups() []string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]string, 0, len(inv.stale))
	for g := range inv.stale {
		out = append(out, g)
	}
	return out
}

// MarkFresh clears the stale marker for a group after its consumer
// re-fetched it.
func (inv *Invalidator) MarkFresh(group string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	delete(inv.stale, group)
}

// Wait blocks until the drain goroutine goes idle. Intended for shutdown and
// tests; scheduled background refreshes may still fire afterwards.
func (inv *Invalidator) Wait() {
	inv.wg.Wait()
}

func (inv *Invalidator) drain() {
	defer inv.wg.Done()
	for {
		inv.mu.Lock()
		if len(inv.queue) == 0 {
			inv.draining = false
			inv.mu.Unlock()
			return
		}
		ev := inv.queue[0]
		inv.queue = inv.queue[1:]
		delete(inv.pending, ev.dedupeKey())
		inv.mu.Unlock()

		inv.apply(ev)
	}
}

func (inv *Invalidator) apply(ev Event) {
	strat := invalidationStrategies[ev.Type]
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()
	inv.mu.Lock()
	for _, g := range strat.staleGroups {
		inv.stale[g] = now
	}
	inv.mu.Unlock()

	// Scope narrows the purge where the prefix is entity-qualified
	// (e.g. "query-project-" + project id); bare prefixes always purge whole.
	prefixes := make([]string, 0, len(strat.purgePrefixes))
	for _, p := range strat.purgePrefixes {
		if ev.Scope != "" && ev.Scope != ScopeGlobal &&
			p != QueryKeyPrefix && p != ImageKeyPrefix && p != TempKeyPrefix {
			prefixes = append(prefixes, p+ev.Scope)
		} else {
			prefixes = append(prefixes, p)
		}
	}
	if err := inv.tiers.ClearByPrefix(ctx, prefixes...); err != nil {
		log.Printf("WARN: purge for event %s/%s incomplete: %v", ev.Type, ev.Scope, err)
	}

	// An image mutation also drops the cached blob for that exact image.
	if ev.Type == EventImageChange && ev.Scope != "" && ev.Scope != ScopeGlobal {
		key := ImageKey(ev.Scope)
		if inv.blobs != nil {
			inv.blobs.Remove(key)
		}
		if err := inv.tiers.Remove(ctx, key); err != nil {
			log.Printf("WARN: removing mutated image '%s' from tiers failed: %v", ev.Scope, err)
		}
	}

	if strat.fullReload != nil && strat.fullReload(ev) && inv.reloadFn != nil {
		inv.reloadFn()
	}

	if strat.refresh && inv.refreshFn != nil {
		groups := append([]string(nil), strat.staleGroups...)
		time.AfterFunc(inv.refreshDelay, func() {
			inv.refreshFn(groups)
		})
	}
}
