// Package retry re-invokes a fallible operation a bounded number of times.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultRetries is the total number of attempts when Options.Retries is unset.
const DefaultRetries = 2

// Options configures Do.
type Options[T any] struct {
	// Retries is the total number of attempts, the first one included.
	Retries int

	// ShouldRetry is consulted after each successful attempt. Returning false
	// rejects the result and triggers another attempt while any remain. On the
	// last attempt a rejected result is returned as is.
	ShouldRetry func(result T, attempt int) bool

	// OnFailedAttempt runs after each failed attempt, before the next one.
	// A non-nil return stops retrying and is returned in place of err.
	OnFailedAttempt func(err error, attempt int) error

	// Backoff spaces attempts out. Nil means no delay. A backoff.Stop
	// interval ends the loop early with the last outcome.
	Backoff backoff.BackOff
}

// Do calls fn with attempt numbers starting at 1 until it succeeds, the
// attempts are exhausted or the context is done. The outcome of the last
// attempt is always surfaced.
func Do[T any](ctx context.Context, fn func(ctx context.Context, attempt int) (T, error), opts Options[T]) (T, error) {
	retries := opts.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}
	if opts.Backoff != nil {
		opts.Backoff.Reset()
	}

	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= retries; attempt++ {
		if attempt > 1 {
			stop, werr := wait(ctx, opts.Backoff)
			if werr != nil {
				if err != nil {
					return result, err
				}
				return result, werr
			}
			if stop {
				break
			}
		}

		result, err = fn(ctx, attempt)
		if err == nil {
			if opts.ShouldRetry == nil || attempt == retries || opts.ShouldRetry(result, attempt) {
				return result, nil
			}
			continue
		}
		if opts.OnFailedAttempt != nil {
			if abort := opts.OnFailedAttempt(err, attempt); abort != nil {
				return result, abort
			}
		}
	}
	return result, err
}

// wait sleeps for the next backoff interval, reporting stop when the policy
// gives up.
func wait(ctx context.Context, b backoff.BackOff) (stop bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if b == nil {
		return false, nil
	}
	d := b.NextBackOff()
	if d == backoff.Stop {
		return true, nil
	}
	if d <= 0 {
		return false, nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
