package mediacache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mediacache/common"
)

const (
	// DefaultFetchTimeout bounds each individual request attempt.
	DefaultFetchTimeout = 8 * time.Second
	// minImageBytes rejects payloads too small to plausibly be an image.
	minImageBytes = 100
)

// fetchStrategy is one named entry in the ordered fallback chain. Strategies
// are tried in sequence until one produces a payload that survives
// validation.
type fetchStrategy struct {
	name string
	run  func(f *Fetcher, ctx context.Context, rawURL string) ([]byte, string, error)
}

// Fetcher resolves image URLs to binary payloads. Each fetch walks an ordered
// list of strategies (direct, proxy, permissive), validates the payload, and
// on success writes it through the blob cache and every storage tier. The
// whole walk is wrapped in the shared RetryPolicy.
type Fetcher struct {
	client     *http.Client
	policy     RetryPolicy
	timeout    time.Duration
	proxyURL   string
	tiers      *TieredStore
	blobs      *BlobCache
	strategies []fetchStrategy
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	// Client overrides the HTTP client; defaults to http.DefaultClient.
	Client *http.Client
	// Policy overrides DefaultRetryPolicy.
	Policy *RetryPolicy
	// Timeout bounds each request attempt; defaults to DefaultFetchTimeout.
	Timeout time.Duration
	// ProxyURL, when set, enables the proxy strategy: the raw URL is appended
	// query-escaped to this base.
	ProxyURL string
}

// NewFetcher creates a Fetcher writing through the given tiers and blob
// cache. Both may be nil, in which case the fetcher is cache-less.
func NewFetcher(tiers *TieredStore, blobs *BlobCache, opts FetcherOptions) *Fetcher {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	policy := DefaultRetryPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	f := &Fetcher{
		client:   client,
		policy:   policy,
		timeout:  timeout,
		proxyURL: opts.ProxyURL,
		tiers:    tiers,
		blobs:    blobs,
	}
	f.strategies = []fetchStrategy{
		{name: "direct", run: (*Fetcher).directFetch},
		{name: "proxy", run: (*Fetcher).proxyFetch},
		{name: "permissive", run: (*Fetcher).permissiveFetch},
	}
	return f
}

// Fetch resolves rawURL to its binary payload, serving from cache when
// possible. Concurrent callers for the same logical image share one network
// fetch. Exhausting every strategy and retry returns an error wrapping
// common.ErrFetchFailed; Fetch never panics.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	key := ImageKey(rawURL)
	if f.blobs == nil {
		return f.fetchUncached(ctx, rawURL, key)
	}
	return f.blobs.GetOrFetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		return f.fetchUncached(ctx, rawURL, key)
	})
}

// Cached reports whether the image is already held by the blob cache or the
// memory tier. Used by the preloader to skip warm URLs.
func (f *Fetcher) Cached(rawURL string) bool {
	key := ImageKey(rawURL)
	if f.blobs != nil && f.blobs.Contains(key) {
		return true
	}
	if f.tiers != nil {
		if _, err := f.tiers.memory.Get(context.Background(), key); err == nil {
			return true
		}
	}
	return false
}

func (f *Fetcher) fetchUncached(ctx context.Context, rawURL, key string) ([]byte, error) {
	// The persistent tiers may hold the payload from an earlier process run.
	if f.tiers != nil {
		if encoded, err := f.tiers.Get(ctx, key); err == nil {
			if b, decErr := base64.StdEncoding.DecodeString(encoded); decErr == nil && len(b) > 0 {
				return b, nil
			}
			// Corrupt entry: drop it and fall through to the network.
			log.Printf("WARN: discarding undecodable cached payload for key '%s'", key)
			_ = f.tiers.Remove(ctx, key)
		}
	}

	directURL := resolveSourceURL(rawURL)

	var payload []byte
	err := f.policy.Do(ctx, func(ctx context.Context) error {
		b, tryErr := f.tryStrategies(ctx, directURL)
		if tryErr != nil {
			return tryErr
		}
		payload = b
		return nil
	})
	if err != nil {
		log.Printf("WARN: fetch exhausted for '%s': %v", rawURL, err)
		return nil, fmt.Errorf("fetch %s: %w", rawURL, common.ErrFetchFailed)
	}

	f.storePayload(ctx, key, payload)
	return payload, nil
}

// tryStrategies walks the ordered strategy list, returning the first payload
// that passes validation.
func (f *Fetcher) tryStrategies(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for _, strat := range f.strategies {
		body, contentType, err := strat.run(f, ctx, rawURL)
		if err != nil {
			lastErr = err
			continue
		}
		if err := validatePayload(body, contentType); err != nil {
			log.Printf("WARN: %s fetch of '%s' rejected: %v", strat.name, rawURL, err)
			lastErr = err
			continue
		}
		return body, nil
	}
	if lastErr == nil {
		lastErr = common.ErrFetchFailed
	}
	return nil, lastErr
}

// directFetch is the standard cross-origin request with explicit headers and
// a bounded timeout. Non-2xx statuses are failures.
func (f *Fetcher) directFetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	return f.request(ctx, rawURL, true)
}

// proxyFetch retries through the configured proxy indirection. Skipped when
// no proxy is configured.
func (f *Fetcher) proxyFetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if f.proxyURL == "" {
		return nil, "", errors.New("mediacache: no proxy configured")
	}
	return f.request(ctx, f.proxyURL+url.QueryEscape(rawURL), true)
}

// permissiveFetch tolerates opaque responses: status and headers are not
// inspected, any non-empty payload counts.
func (f *Fetcher) permissiveFetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	return f.request(ctx, rawURL, false)
}

func (f *Fetcher) request(ctx context.Context, target string, checkStatus bool) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request for '%s': %w", target, err)
	}
	req.Header.Set("Accept", "image/*,*/*;q=0.8")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request '%s': %w", target, err)
	}
	defer resp.Body.Close()

	if checkStatus && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return nil, "", fmt.Errorf("request '%s': unexpected status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read body of '%s': %w", target, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// storePayload writes a fetched payload through every storage tier. The
// "img-" prefix classifies the key as important, so it reaches the session
// and durable tiers as well as memory.
func (f *Fetcher) storePayload(ctx context.Context, key string, payload []byte) {
	if f.tiers == nil {
		return
	}
	f.tiers.Set(ctx, key, base64.StdEncoding.EncodeToString(payload))
}

// validatePayload rejects payloads that cannot be images: empty bodies,
// declared HTML, sniffed HTML error pages, and implausibly small responses.
func validatePayload(body []byte, contentType string) error {
	if len(body) == 0 {
		return common.ErrEmptyPayload
	}
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return common.ErrHTMLPayload
	}
	head := strings.ToLower(string(body[:min(len(body), 64)]))
	trimmed := strings.TrimLeft(head, " \t\r\n")
	if strings.HasPrefix(trimmed, "<!doctype") || strings.HasPrefix(trimmed, "<html") {
		return common.ErrHTMLPayload
	}
	if len(body) < minImageBytes {
		return common.ErrPayloadTooSmall
	}
	return nil
}

// resolveSourceURL rewrites consumer file-hosting share links to their
// direct-content form. Unknown hosts pass through unchanged.
func resolveSourceURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "dropbox.com" || host == "www.dropbox.com":
		u.Host = "dl.dropboxusercontent.com"
		q := u.Query()
		q.Del("dl")
		q.Set("raw", "1")
		u.RawQuery = q.Encode()
		return u.String()
	case host == "drive.google.com":
		// /file/d/<id>/view -> direct download endpoint.
		parts := strings.Split(u.Path, "/")
		for i, p := range parts {
			if p == "d" && i+1 < len(parts) && parts[i+1] != "" {
				return "https://drive.google.com/uc?export=download&id=" + parts[i+1]
			}
		}
	}
	return raw
}
