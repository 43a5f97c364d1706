package resilience

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy is an exponential backoff: the first retry waits BaseDelay,
// each later one doubles it, capped at MaxDelay. MaxAttempts counts the
// initial call.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy is 1s, 2s, 4s ... capped at 10s, three attempts.
var DefaultRetryPolicy = RetryPolicy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, MaxAttempts: 3}

// Backoff returns a fresh backoff sequence for one call.
func (p RetryPolicy) Backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultRetryPolicy.BaseDelay
	}
	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	retries := uint64(0)
	if p.MaxAttempts > 1 {
		retries = uint64(p.MaxAttempts - 1)
	}
	return retry.WithMaxRetries(retries, b)
}

// Retry runs fn until it succeeds, fails with an error transient rejects,
// or the attempts are exhausted, in which case the last error is returned
// unchanged. onRetry, when set, observes each scheduled delay.
func Retry[T any](ctx context.Context, p RetryPolicy, transient func(error) bool, onRetry func(attempt int, delay time.Duration, err error), fn func(ctx context.Context) (T, error)) (T, error) {
	b := p.Backoff()
	attempt := 0
	var lastErr error
	if onRetry != nil {
		inner := b
		b = retry.BackoffFunc(func() (time.Duration, bool) {
			d, stop := inner.Next()
			if !stop {
				onRetry(attempt, d, lastErr)
			}
			return d, stop
		})
	}
	return retry.DoValue(ctx, b, func(ctx context.Context) (T, error) {
		attempt++
		v, err := fn(ctx)
		if err != nil && transient(err) {
			lastErr = err
			return v, retry.RetryableError(err)
		}
		return v, err
	})
}
