// Package retry wraps cenkalti/backoff with the one retry shape used by
// the background workers: bounded attempts, exponential backoff, and a
// predicate deciding which error kinds are worth retrying.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy suits transient durable-store contention: a few quick
// attempts, capped well under the reconcile interval.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// Do runs op, retrying per the policy while retryable(err) holds. A
// non-retryable error or exhausted attempts returns the last error;
// context cancellation stops the backoff wait early.
func Do(ctx context.Context, p Policy, retryable func(error) bool, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval

	attempts := uint64(0)
	if p.MaxAttempts > 1 {
		attempts = uint64(p.MaxAttempts - 1)
	}

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, attempts), ctx))
}
