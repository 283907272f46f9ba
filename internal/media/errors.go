package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ServiceError wraps a failed call to an external generation service.
type ServiceError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("generation service: %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Transient marks err as worth retrying.
func Transient(op string, err error) error {
	return &ServiceError{Op: op, Retryable: true, Err: err}
}

// Permanent marks err as final.
func Permanent(op string, err error) error {
	return &ServiceError{Op: op, Err: err}
}

// Retry calls fn up to attempts times, doubling the delay after each
// retryable failure. Errors that are not a retryable *ServiceError end the
// loop immediately.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(delay),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(time.Hour),
		backoff.WithMaxElapsedTime(0),
	)

	return backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var svcErr *ServiceError
		if !errors.As(err, &svcErr) || !svcErr.Retryable {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx))
}
