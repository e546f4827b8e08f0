package mediacache

import (
	"net/url"
	"strings"
)

// --- Cache Key Prefixes ---

// Key prefixes drive tier classification and invalidation scoping.
const (
	// ImageKeyPrefix marks serialized image payloads. Important class: written
	// through to every tier.
	ImageKeyPrefix = "img-"
	// QueryKeyPrefix marks cached query-group results owned by the UI layer.
	QueryKeyPrefix = "query-"
	// TempKeyPrefix marks short-lived working data. Never written to the
	// durable tier.
	TempKeyPrefix = "temp-"
)

// sizingParams is the whitelist of query parameters that distinguish cache
// slots. URLs differing only in parameters outside this set collapse onto the
// same key on purpose: they are treated as the same logical image.
var sizingParams = map[string]struct{}{
	"w":       {},
	"h":       {},
	"q":       {},
	"width":   {},
	"height":  {},
	"quality": {},
	"size":    {},
}

// NormalizeKey derives a stable cache key from an image URL: origin + path +
// whitelisted sizing parameters in canonical order. It fails open — any URL
// that cannot be parsed (or has no origin) is returned unchanged rather than
// raising. NormalizeKey is idempotent.
func NormalizeKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return rawURL
	}

	kept := url.Values{}
	for param, vals := range u.Query() {
		if _, ok := sizingParams[param]; ok {
			kept[param] = vals
		}
	}

	base := u.Scheme + "://" + u.Host + u.Path
	if len(kept) == 0 {
		return base
	}
	// Encode sorts parameter names, which is what makes the key canonical.
	return base + "?" + kept.Encode()
}

// ImageKey returns the tier storage key for an image URL.
func ImageKey(rawURL string) string {
	return ImageKeyPrefix + NormalizeKey(rawURL)
}

// matchesAnyPrefix reports whether key starts with any of the given prefixes.
func matchesAnyPrefix(key string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}
