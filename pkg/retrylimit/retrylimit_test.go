package retrylimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	p := DefaultPolicy()
	p.MaxAttempts = attempts
	p.InitialDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	p.Jitter = false
	return p
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, fastPolicy(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_GivesUp(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), nil, fastPolicy(2), func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, ErrAttemptsExceeded)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	boom := errors.New("bad document")
	calls := 0
	err := Do(context.Background(), nil, fastPolicy(5), func(context.Context) error {
		calls++
		return MarkPermanent(boom)
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetryableFilter(t *testing.T) {
	calls := 0
	p := fastPolicy(5)
	p.Retryable = func(error) bool { return false }
	err := Do(context.Background(), nil, p, func(context.Context) error {
		calls++
		return errors.New("nope")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, nil, fastPolicy(3), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdaptiveLimiter_Bounds(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 2, 20, 5, 0.5)
	lim.Failure()
	assert.Equal(t, 5.0, lim.CurrentLimit())
	lim.Failure()
	lim.Failure()
	assert.Equal(t, 2.0, lim.CurrentLimit())

	// a recent failure blocks ramp-up
	lim.Success()
	assert.Equal(t, 2.0, lim.CurrentLimit())
}

func TestNewAdaptiveLimiter_ClampsInitial(t *testing.T) {
	assert.Equal(t, 20.0, NewAdaptiveLimiter(500, 2, 20, 5, 0.5).CurrentLimit())
	assert.Equal(t, 1.0, NewAdaptiveLimiter(0, 0, 20, 5, 0.5).CurrentLimit())
	// hi below lo collapses to lo
	assert.Equal(t, 3.0, NewAdaptiveLimiter(10, 3, 1, 5, 0.5).CurrentLimit())
}
