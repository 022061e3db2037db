// Package retrylimit retries short I/O operations with exponential backoff,
// pacing attempts through an adaptive rate limiter that slows down while a
// backend keeps failing and recovers once it answers again.
//
// Example usage:
//
//	lim := retrylimit.NewAdaptiveLimiter(50, 5, 200, 5, 0.5)
//	err := retrylimit.Do(ctx, lim, retrylimit.DefaultPolicy(), func(ctx context.Context) error {
//	    return backend.Put(ctx, key, doc)
//	})
package retrylimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AdaptiveLimiter paces attempts. The rate grows on success and shrinks on
// failure, bounded by min and max. Safe for concurrent use.
type AdaptiveLimiter struct {
	mu        sync.Mutex
	limiter   *rate.Limiter
	minLimit  rate.Limit
	maxLimit  rate.Limit
	stepUp    rate.Limit
	stepDown  float64
	lastError time.Time
}

// NewAdaptiveLimiter creates an AdaptiveLimiter.
//
//   - initial: starting attempts per second
//   - lo, hi: bounds for the rate
//   - stepUp: increment on success
//   - stepDown: multiplier on failure (0.5 halves the rate)
func NewAdaptiveLimiter(initial, lo, hi, stepUp rate.Limit, stepDown float64) *AdaptiveLimiter {
	if lo < 1 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}
	initial = min(max(initial, lo), hi)
	return &AdaptiveLimiter{
		limiter:  rate.NewLimiter(initial, max(1, int(initial))),
		minLimit: lo,
		maxLimit: hi,
		stepUp:   stepUp,
		stepDown: stepDown,
	}
}

// Wait blocks until an attempt is allowed or ctx is done.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// Success raises the rate, unless a failure was seen in the last 10 seconds.
func (a *AdaptiveLimiter) Success() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if time.Since(a.lastError) > 10*time.Second {
		a.adjust(a.limiter.Limit() + a.stepUp)
	}
}

// Failure lowers the rate.
func (a *AdaptiveLimiter) Failure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastError = time.Now()
	a.adjust(rate.Limit(float64(a.limiter.Limit()) * a.stepDown))
}

// CurrentLimit returns the current attempts per second.
func (a *AdaptiveLimiter) CurrentLimit() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return float64(a.limiter.Limit())
}

func (a *AdaptiveLimiter) adjust(next rate.Limit) {
	next = min(max(next, a.minLimit), a.maxLimit)
	if next != a.limiter.Limit() {
		a.limiter.SetLimit(next)
		a.limiter.SetBurst(max(1, int(next)))
	}
}

// Permanent marks an error that must not be retried.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// MarkPermanent wraps err so Do returns it without retrying. Nil stays nil.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// Policy configures Do.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	// Retryable decides whether a non-permanent error is worth another
	// attempt. Nil retries everything.
	Retryable func(error) bool
	Logger    *slog.Logger
}

// DefaultPolicy suits calls to a local file or a nearby Redis.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// ErrAttemptsExceeded is wrapped together with the last error when every
// attempt failed.
var ErrAttemptsExceeded = errors.New("retry attempts exceeded")

// Do runs fn until it succeeds, returns a Permanent error, the policy gives
// up, or ctx is done. lim may be nil.
func Do(ctx context.Context, lim *AdaptiveLimiter, p Policy, fn func(context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	delay := p.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			if lim != nil {
				lim.Success()
			}
			if attempt > 1 {
				logger.Debug("retry succeeded", slog.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err

		var perm *Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if lim != nil {
			lim.Failure()
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := delay
		if p.Jitter {
			wait = addJitter(delay)
		}
		logger.Debug("attempt failed, backing off",
			slog.Int("attempt", attempt), slog.Duration("wait", wait), slog.Any("err", err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return fmt.Errorf("%w (%d): %w", ErrAttemptsExceeded, p.MaxAttempts, lastErr)
}

// addJitter adds up to 25% random jitter.
func addJitter(delay time.Duration) time.Duration {
	if delay < 4 {
		return delay
	}
	return delay + time.Duration(rand.Int64N(int64(delay/4)))
}
