package upstream

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Policy describes how a call is retried: how many times, how long to wait
// between attempts, and which statuses are worth retrying.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Retryable decides which HTTP statuses are retried. Defaults to 429 and 503.
	Retryable func(status int) bool
	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff wait.
	OnRetry func(attempt, status int, delay time.Duration)
}

// DefaultRetryable retries rate limiting and temporary unavailability.
func DefaultRetryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// Delay returns the wait before retry number attempt (0-based): BaseDelay * 2^attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay << uint(attempt)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. Exhaustion is reported as ErrRateLimitExceeded for
// 429 and ErrUpstreamUnavailable otherwise.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var se *StatusError
		if !errors.As(err, &se) || !retryable(se.StatusCode) {
			return err
		}
		if attempt >= p.MaxRetries {
			if se.StatusCode == http.StatusTooManyRequests {
				return se.WithKind(ErrRateLimitExceeded)
			}
			return se.WithKind(ErrUpstreamUnavailable)
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, se.StatusCode, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
