package mediacache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediacache"
)

func TestRetryPolicy_DelayGrowsGeometrically(t *testing.T) {
	p := mediacache.RetryPolicy{BaseDelay: 100 * time.Millisecond, Multiplier: 1.5}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 150*time.Millisecond, p.Delay(1))
	assert.Equal(t, 225*time.Millisecond, p.Delay(2))
}

func TestRetryPolicy_DelayDefaults(t *testing.T) {
	assert.Equal(t, time.Duration(0), mediacache.RetryPolicy{}.Delay(3))

	// A zero multiplier means a flat delay, not a vanishing one.
	p := mediacache.RetryPolicy{BaseDelay: 50 * time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, p.Delay(0))
	assert.Equal(t, 50*time.Millisecond, p.Delay(5))
}

func TestRetryPolicy_DoRetriesUntilSuccess(t *testing.T) {
	p := mediacache.RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, Multiplier: 1.5}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_DoExhaustsAttempts(t *testing.T) {
	p := mediacache.RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, Multiplier: 1}

	sentinel := errors.New("still failing")
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 4, calls)
}

func TestRetryPolicy_DoAbortStopsEarly(t *testing.T) {
	fatal := errors.New("fatal")
	p := mediacache.RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Abort:       func(err error) bool { return errors.Is(err, fatal) },
	}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls, "aborting errors must not be retried")
}

func TestRetryPolicy_DoHonorsContext(t *testing.T) {
	p := mediacache.RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ZeroAttemptsStillRunsOnce(t *testing.T) {
	calls := 0
	err := mediacache.RetryPolicy{}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
