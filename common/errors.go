package common

import "errors"

// ErrNotFound is returned when a requested key is absent from every storage tier.
var ErrNotFound = errors.New("mediacache: requested key not found")

// Additional package-level errors
var (
	// ErrQuotaExceeded is the storage-side signal that a tier is at capacity.
	// Writers recover by evicting old unprotected entries and retrying once.
	ErrQuotaExceeded = errors.New("mediacache: storage quota exceeded")
	// ErrFetchFailed indicates every fetch strategy and retry attempt was exhausted.
	ErrFetchFailed = errors.New("mediacache: all fetch strategies exhausted")
	// ErrEmptyPayload indicates a fetch produced zero bytes; treated as retryable.
	ErrEmptyPayload = errors.New("mediacache: fetched payload is empty")
	// ErrHTMLPayload indicates the payload looks like an HTML error page served
	// where an image was expected; treated as retryable.
	ErrHTMLPayload = errors.New("mediacache: payload looks like an HTML error page")
	// ErrPayloadTooSmall indicates the payload is below the minimum plausible image size.
	ErrPayloadTooSmall  = errors.New("mediacache: payload too small to be an image")
	ErrNoTargets        = errors.New("mediacache: no download targets provided")
	ErrAllTargetsFailed = errors.New("mediacache: every download target failed")
	ErrNotConfigured    = errors.New("mediacache: package not configured, call Configure first")
	ErrStoreClosed      = errors.New("mediacache: store is closed")
)
