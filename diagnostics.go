package mediacache

import (
	"context"
	"sort"
	"strings"
)

// ConsistencyReport is the result of comparing cache contents against the
// source of truth.
type ConsistencyReport struct {
	// TruthCount is how many image URLs the source of truth reported.
	TruthCount int
	// CachedCount is how many distinct image keys any cache layer holds.
	CachedCount int
	// Missing lists truth URLs with no cached payload anywhere.
	Missing []string
	// Orphaned lists cached image keys the source of truth no longer knows.
	Orphaned []string
	// TierCounts maps tier name to its total entry count (all key classes).
	TierCounts map[string]int
}

// Consistent reports whether the caches carry no orphaned entries. Missing
// entries are not an inconsistency — they are simply not yet warmed.
func (r *ConsistencyReport) Consistent() bool {
	return len(r.Orphaned) == 0
}

// CheckConsistency compares the image keys held by the blob cache and the
// storage tiers against the URLs the source of truth currently lists.
// A miss for a recently hit key is normal under concurrent eviction, so this
// is a diagnostic snapshot, not an invariant check.
func CheckConsistency(ctx context.Context, tiers *TieredStore, blobs *BlobCache, source TruthSource) (*ConsistencyReport, error) {
	urls, err := source.ImageURLs(ctx)
	if err != nil {
		return nil, err
	}

	truthKeys := make(map[string]string, len(urls)) // key -> original URL
	for _, u := range urls {
		truthKeys[ImageKey(u)] = u
	}

	cached := make(map[string]struct{})
	report := &ConsistencyReport{
		TruthCount: len(urls),
		TierCounts: make(map[string]int),
	}

	if blobs != nil {
		for _, key := range blobs.Keys() {
			cached[key] = struct{}{}
		}
	}
	if tiers != nil {
		for _, tier := range tiers.tiers() {
			keys, err := tier.store.Keys(ctx)
			if err != nil {
				return nil, err
			}
			report.TierCounts[tier.name] = len(keys)
			for _, key := range keys {
				if strings.HasPrefix(key, ImageKeyPrefix) {
					cached[key] = struct{}{}
				}
			}
		}
	}
	report.CachedCount = len(cached)

	for key, u := range truthKeys {
		if _, ok := cached[key]; !ok {
			report.Missing = append(report.Missing, u)
		}
	}
	for key := range cached {
		if _, ok := truthKeys[key]; !ok {
			report.Orphaned = append(report.Orphaned, key)
		}
	}
	sort.Strings(report.Missing)
	sort.Strings(report.Orphaned)
	return report, nil
}

// Reconcile removes every orphaned entry found by CheckConsistency from both
// the blob cache and the storage tiers, returning the number removed.
func Reconcile(ctx context.Context, tiers *TieredStore, blobs *BlobCache, source TruthSource) (int, error) {
	report, err := CheckConsistency(ctx, tiers, blobs, source)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range report.Orphaned {
		if blobs != nil {
			blobs.Remove(key)
		}
		if tiers != nil {
			if err := tiers.Remove(ctx, key); err != nil {
				continue
			}
		}
		removed++
	}
	return removed, nil
}
