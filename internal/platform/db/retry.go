package db

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// ConflictAttempts bounds how often RetryConflict runs fn.
const ConflictAttempts = 4

// RetryConflict runs fn and repeats it with jittered backoff while it fails
// with shared.ErrConflict, up to ConflictAttempts runs. Inside an open
// transaction fn runs once: the outer unit of work owns the retry, since a
// failed statement aborts the whole transaction.
func RetryConflict(ctx context.Context, fn func(context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 0

	op := func() error {
		err := fn(ctx)
		if err != nil && !errors.Is(err, shared.ErrConflict) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, ConflictAttempts-1), ctx)
	return backoff.Retry(op, b)
}
