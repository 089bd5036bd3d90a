package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"syscall"
	"time"
)

// ErrUnexpectedContent marks a response whose body is not what the caller
// expected, e.g. an HTML error page where a binary file should be. It is a
// soft failure: never retried, never fatal to the surrounding job.
var ErrUnexpectedContent = errors.New("fetch: unexpected content")

// HTTPStatusError is returned when the server replied with an error status.
// It is distinct from transport errors so callers can treat "got an answer,
// just not a good one" differently from "got no answer".
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("fetch: %s returned status %d", e.URL, e.StatusCode)
}

// RetryPolicy wraps a fetch in exponential backoff over transient failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the politeness budget government servers leave
// us: three attempts, one-second base, eight-second ceiling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    8 * time.Second,
	}
}

// IsTransient reports whether the error belongs to the fixed set of
// conditions worth retrying: connection reset, timeout, broken pipe, or a
// truncated/bad response. Everything else propagates immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrUnexpectedContent) {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		// 5xx from an overloaded agency server usually clears within seconds.
		return statusErr.StatusCode >= 500
	}
	msg := err.Error()
	for _, needle := range []string{"connection reset", "broken pipe", "bad response", "timeout"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// Backoff returns the delay before the given zero-based retry attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Do runs fn under the policy, sleeping between transient failures. The last
// error is returned once attempts are exhausted.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.Backoff(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
