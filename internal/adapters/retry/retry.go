// Package retry holds the retry policy shared by every API call site.
package retry

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// maxBackoffShift caps the exponential backoff multiplier.
const maxBackoffShift = 10

// StatusError is a response status the caller does not accept.
type StatusError struct {
	Status   int
	Attempts int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("unexpected status %d after %d attempt(s): %s", e.Status, e.Attempts, e.Body)
	}
	return fmt.Sprintf("unexpected status %d after %d attempt(s)", e.Status, e.Attempts)
}

// Attempt performs one call and reports its status. A non-nil error ends the
// retry loop immediately and is returned as is.
type Attempt func(ctx context.Context) (status int, err error)

// BeforeRetry runs between a retryable status and the next attempt, e.g. to
// refresh credentials. A non-nil error ends the loop.
type BeforeRetry func(ctx context.Context, status int) error

// Policy decides which statuses are retried and how often.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 mean 1.
	MaxAttempts int
	// Backoff is the pause before the second attempt, doubled after each
	// further one. Zero retries immediately.
	Backoff time.Duration
	// RetryOn reports whether status is retryable. Nil retries nothing.
	RetryOn func(status int) bool
}

// OnUnauthorized retries a 401 exactly once, without pause. Server errors
// are not retried.
func OnUnauthorized() Policy {
	return Policy{
		MaxAttempts: 2,
		RetryOn:     func(status int) bool { return status == http.StatusUnauthorized },
	}
}

// Do runs attempt until it returns a non-retryable status, an error, or the
// attempts are used up. In the last case the result is a *StatusError with
// the final status.
func (p Policy) Do(ctx context.Context, attempt Attempt, beforeRetry BeforeRetry) error {
	maxAttempts := max(p.MaxAttempts, 1)
	for n := 1; ; n++ {
		status, err := attempt(ctx)
		if err != nil {
			return err
		}
		if p.RetryOn == nil || !p.RetryOn(status) {
			return nil
		}
		if n >= maxAttempts {
			return &StatusError{Status: status, Attempts: n}
		}
		if beforeRetry != nil {
			if err := beforeRetry(ctx, status); err != nil {
				return err
			}
		}
		if err := p.wait(ctx, n); err != nil {
			return err
		}
	}
}

func (p Policy) wait(ctx context.Context, attempt int) error {
	if p.Backoff <= 0 {
		return ctx.Err()
	}
	shift := min(attempt-1, maxBackoffShift)
	t := time.NewTimer(p.Backoff << shift)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
