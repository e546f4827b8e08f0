package mediacache

import "mediacache/common"

// Public re-exports of the shared sentinel errors so callers only need the
// root package. Internal code references common directly.
var (
	ErrNotFound         = common.ErrNotFound
	ErrQuotaExceeded    = common.ErrQuotaExceeded
	ErrFetchFailed      = common.ErrFetchFailed
	ErrEmptyPayload     = common.ErrEmptyPayload
	ErrHTMLPayload      = common.ErrHTMLPayload
	ErrPayloadTooSmall  = common.ErrPayloadTooSmall
	ErrNoTargets        = common.ErrNoTargets
	ErrAllTargetsFailed = common.ErrAllTargetsFailed
	ErrNotConfigured    = common.ErrNotConfigured
	ErrStoreClosed      = common.ErrStoreClosed
)
