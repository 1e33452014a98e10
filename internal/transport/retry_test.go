package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeNetError struct{ timeout bool }

func (e *fakeNetError) Error() string   { return "fake net error" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return true }

func TestShouldRetry(t *testing.T) {
	t.Parallel()
	policy := NewExponentialRetryPolicy()

	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"nil error", nil, 1, false},
		{"server error", &StatusError{StatusCode: 503}, 1, true},
		{"timeout status", &StatusError{StatusCode: 408}, 1, true},
		{"rate limited", &StatusError{StatusCode: 429}, 2, true},
		{"not found", &StatusError{StatusCode: 404}, 1, false},
		{"forbidden", &StatusError{StatusCode: 403}, 1, false},
		{"attempts spent", &StatusError{StatusCode: 503}, 3, false},
		{"network timeout", &fakeNetError{timeout: true}, 1, true},
		{"connection failure", &fakeNetError{}, 1, true},
		{"context canceled", context.Canceled, 1, false},
		// An expired http.Client timeout matches context.DeadlineExceeded
		// and net.Error; it is transient, and caller expiry is handled on
		// the request context by the client instead.
		{"request deadline exceeded", context.DeadlineExceeded, 1, true},
		{"plain error", errors.New("decode json: bad"), 1, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, policy.ShouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestShouldRetryWrappedNetError(t *testing.T) {
	t.Parallel()
	policy := NewExponentialRetryPolicy()
	var opErr error = &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	wrapped := errors.Join(errors.New("fetch http://x"), opErr)
	require.True(t, policy.ShouldRetry(wrapped, 1))
}

func TestBackoffSchedule(t *testing.T) {
	t.Parallel()
	policy := NewExponentialRetryPolicy()

	require.Equal(t, 2*time.Second, policy.Backoff(1))
	require.Equal(t, 4*time.Second, policy.Backoff(2))
	require.Equal(t, 8*time.Second, policy.Backoff(3))
	// Capped at the max delay from the fourth attempt on.
	require.Equal(t, 10*time.Second, policy.Backoff(4))
	require.Equal(t, 10*time.Second, policy.Backoff(8))
}
