package mediacache

import (
	"context"
	"time"
)

// RetryPolicy is the single parameterized retry mechanism shared by the
// single-image and bulk download paths. Delays grow geometrically:
// BaseDelay × Multiplier^attempt.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration
	// Multiplier scales the delay after each failed attempt.
	Multiplier float64
	// Abort, when non-nil, stops retrying for errors it reports true for.
	Abort func(error) bool
}

// DefaultRetryPolicy matches the fetch budget used throughout: four attempts
// with a 500ms base delay growing 1.5x.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  1.5,
	}
}

// Delay returns the backoff before retrying after the given zero-based failed
// attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= mult
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, the attempt budget is exhausted, the Abort
// predicate matches, or ctx is done. The last error is returned on
// exhaustion.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay(attempt - 1)):
			}
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Abort != nil && p.Abort(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
