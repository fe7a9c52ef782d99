package util

import (
	"context"
	"errors"
)

// RetryIfWithContext calls fn up to maxTries times while it fails with an
// error for which retryable reports true. Any other error is returned
// immediately, and so are context errors. A nil retryable retries every
// error. If maxTries <= 0, it defaults to 1.
func RetryIfWithContext[T any](
	ctx context.Context,
	maxTries int,
	retryable func(error) bool,
	fn func(context.Context) (T, error),
) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if retryable != nil && !retryable(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}
