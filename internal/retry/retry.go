// Package retry runs an operation with bounded exponential backoff.
// It is the single retry mechanism for queue mutations; callers describe
// what is retryable instead of hand-rolling loops.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures Do. The delay before attempt n+1 is BaseDelay * 2^n.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Retryable decides whether an error is transient. Errors it rejects are
	// returned immediately. A nil Retryable retries every error.
	Retryable func(error) bool
	// OnRetry is called before each wait with the failed attempt number
	// (starting at 1) and the upcoming delay.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts, or ctx is done. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := max(p.MaxAttempts, 1)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = p.BaseDelay << attempts
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && p.Retryable != nil && !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, b, func(err error, d time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(err, attempt, d)
		}
	})
}
