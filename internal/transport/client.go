// Package transport provides the retrying, concurrency-bounded HTTP client
// shared by every source strategy.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// maxResponseBodyBytes limits the size of fetched responses.
const maxResponseBodyBytes = 64 * 1024 * 1024 // 64 MiB

// maxGlobalFetches caps the admission semaphore regardless of core count.
const maxGlobalFetches = 32

// Client issues HTTP requests under a global admission semaphore with
// bounded retries for transient failures.
type Client struct {
	httpClient *http.Client
	sem        *semaphore.Weighted
	policy     *ExponentialRetryPolicy
	userAgent  string
	logger     *zap.Logger
}

// Config controls Client behavior.
type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// NewClient constructs a Client with the global fetch semaphore sized
// min(32, 2 x NumCPU).
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	slots := int64(2 * runtime.NumCPU())
	if slots > maxGlobalFetches {
		slots = maxGlobalFetches
	}
	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          128,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: cfg.Timeout,
			ForceAttemptHTTP2:     true,
		},
	}
	return &Client{
		httpClient: httpClient,
		sem:        semaphore.NewWeighted(slots),
		policy:     NewExponentialRetryPolicy(),
		userAgent:  cfg.UserAgent,
		logger:     logger,
	}
}

// FetchBytes retrieves url and returns the raw response body.
func (c *Client) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	return c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	}, rawURL)
}

// FetchJSON retrieves url (with optional query params) and decodes the
// response body into out.
func (c *Client) FetchJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	target := rawURL
	if len(params) > 0 {
		parsed, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("parse url %s: %w", rawURL, err)
		}
		q := parsed.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		parsed.RawQuery = q.Encode()
		target = parsed.String()
	}
	body, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, target)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode json from %s: %w", target, err)
	}
	return nil
}

// PostJSON sends payload as a JSON body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload any, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", rawURL, err)
	}
	body, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode json from %s: %w", rawURL, err)
	}
	return nil
}

// do runs the fetch loop: semaphore admission, attempt, retry decision.
// The request builder is invoked per attempt because request bodies are
// single-use.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error), rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		body, err := c.attempt(ctx, build)
		if err == nil {
			fetchAttempts.WithLabelValues("success").Inc()
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			// The caller's context expired or was canceled; the per-request
			// timeout never cancels ctx, so this is not a transient fault.
			fetchAttempts.WithLabelValues("canceled").Inc()
			return nil, err
		}
		if !c.policy.ShouldRetry(err, attempt) {
			if attempt >= c.policy.MaxAttempts() && retryable(err) {
				fetchAttempts.WithLabelValues("exhausted").Inc()
				return nil, &RetryExhaustedError{URL: rawURL, Attempts: attempt, Last: lastErr}
			}
			fetchAttempts.WithLabelValues("terminal").Inc()
			return nil, err
		}
		fetchRetries.Inc()
		c.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := sleep(ctx, c.policy.Backoff(attempt)); err != nil {
			return nil, err
		}
	}
}

// attempt performs one admission-bounded request.
func (c *Client) attempt(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire fetch slot: %w", err)
	}
	defer c.sem.Release(1)

	req, err := build()
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-side close

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, &StatusError{URL: req.URL.String(), StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body from %s: %w", req.URL, err)
	}
	return body, nil
}

// retryable reports whether err is in the transient class (used to decide
// between "terminal" and "exhausted" once attempts run out).
func retryable(err error) bool {
	probe := &ExponentialRetryPolicy{maxAttempts: 1 << 30}
	return probe.ShouldRetry(err, 1)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
