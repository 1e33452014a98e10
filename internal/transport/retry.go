package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d for %s", e.StatusCode, e.URL)
}

// RetryExhaustedError wraps the final error after all attempts failed.
type RetryExhaustedError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts for %s: %v", e.Attempts, e.URL, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// RetryPolicy decides whether and how long to wait before another attempt.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// ExponentialRetryPolicy implements RetryPolicy with exponential backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy with the harvester defaults:
// three attempts total, backoff starting at 2s and capped at 10s.
func NewExponentialRetryPolicy() *ExponentialRetryPolicy {
	return &ExponentialRetryPolicy{
		maxAttempts: 3,
		baseDelay:   2 * time.Second,
		maxDelay:    10 * time.Second,
	}
}

// MaxAttempts reports the total number of attempts allowed.
func (p *ExponentialRetryPolicy) MaxAttempts() int { return p.maxAttempts }

// ShouldRetry decides whether the error is retryable. Attempt is 1-based.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return retryableStatus(statusErr.StatusCode)
	}
	// Connection-level failures and per-request timeouts arrive as wrapped
	// *url.Error values that satisfy net.Error; both are transient. An
	// expired http.Client timeout also matches context.DeadlineExceeded, so
	// caller cancellation must be judged on the request context by the
	// client, never by errors.Is here. Anything else (JSON decode, bad URL)
	// is terminal.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// Backoff returns the wait duration before the next attempt. Attempt is 1-based.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay)
}

// retryableStatus reports whether an HTTP status warrants another attempt.
func retryableStatus(code int) bool {
	if code >= 500 {
		return true
	}
	return code == 408 || code == 429
}
