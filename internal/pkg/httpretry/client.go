// Package httpretry wraps an HTTP client with retries, exponential backoff
// and full jitter for idempotent calls to external lookup services.
package httpretry

import (
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tunes a RetryClient. Zero fields take defaults.
type Options struct {
	// MaxRetries is the number of attempts after the first (default 3).
	MaxRetries int
	// BaseDelay is the backoff unit (default 1s).
	BaseDelay time.Duration
	// MaxDelay caps a single wait (default 30s).
	MaxDelay time.Duration
	// MinDelay floors a single wait (default 100ms).
	MinDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.MinDelay <= 0 {
		o.MinDelay = 100 * time.Millisecond
	}
	if o.MinDelay > o.MaxDelay {
		o.MinDelay = o.MaxDelay
	}
	return o
}

// RetryClient wraps an HTTPDoer with retry logic.
type RetryClient struct {
	client HTTPDoer
	opts   Options
}

// New creates a RetryClient around client. A nil client means an
// http.Client with a 10s timeout.
func New(client HTTPDoer, opts Options) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RetryClient{client: client, opts: opts.withDefaults()}
}

// Do executes req, retrying on 429/500/502/503/504 and on transport
// errors. Client errors and context cancellation are returned at once. The
// final attempt's response is returned as-is so the caller can inspect it.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= rc.opts.MaxRetries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset request body: %w", err)
				}
				req.Body = body
			}

			delay := rc.delay(attempt)
			log.Printf("[httpretry] attempt %d/%d for %s %s%s in %s",
				attempt, rc.opts.MaxRetries, req.Method, req.URL.Host, req.URL.Path, delay)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			continue
		}

		if !Retryable(resp.StatusCode) || attempt == rc.opts.MaxRetries {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// delay is random(0, min(MaxDelay, BaseDelay * 2^(attempt-1))), floored at MinDelay.
func (rc *RetryClient) delay(attempt int) time.Duration {
	exp := float64(rc.opts.BaseDelay) * math.Pow(2, float64(attempt-1))
	if exp > float64(rc.opts.MaxDelay) {
		exp = float64(rc.opts.MaxDelay)
	}
	d := time.Duration(rand.Float64() * exp)
	if d < rc.opts.MinDelay {
		d = rc.opts.MinDelay
	}
	return d
}

// Retryable reports whether status indicates a transient server error.
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
