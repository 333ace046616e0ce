// Package transport performs vendor network calls for the gateway.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/apperror"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "ai-platform-gateway/0.1"

	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second

	maxErrorBodyBytes = 64 * 1024
)

// Result is the outcome of one dispatch. Exactly one of Payload/Stream is
// set: Payload for parsed JSON envelopes, Stream for raw streaming bodies.
type Result struct {
	Payload     map[string]any
	Stream      io.ReadCloser
	EventID     string
	LogID       string
	CacheStatus string
}

// Request describes one vendor call.
type Request struct {
	Endpoint string
	Headers  http.Header
	Body     any
	Stream   bool
}

// GatewayBinding is a managed dispatch channel that applies retries, caching
// and auth on the platform's behalf. When present it replaces the direct
// path; retry policy is delegated to it.
type GatewayBinding interface {
	Run(ctx context.Context, req Request, retry RetryConfig) (*Result, error)
}

// RetryConfig bounds the direct-dispatch retry loop.
type RetryConfig struct {
	MaxAttempts int
	Backoff     string // "exponential" or "linear"
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
}

// DefaultRetryConfig returns the stock retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Backoff:     "exponential",
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Timeout:     60 * time.Second,
	}
}

// Delay computes the sleep before retry attempt (1-based).
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := c.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := c.MaxDelay
	if max <= 0 {
		max = 30 * time.Second
	}

	var d time.Duration
	if c.Backoff == "linear" {
		d = base * time.Duration(attempt)
	} else {
		d = base
		for i := 1; i < attempt; i++ {
			if d >= max/2 {
				d = max
				break
			}
			d *= 2
		}
	}
	if d > max {
		d = max
	}
	return d
}

// capDelay bounds a vendor-requested retry delay at MaxDelay.
func (c RetryConfig) capDelay(d time.Duration) time.Duration {
	max := c.MaxDelay
	if max <= 0 {
		max = 30 * time.Second
	}
	if d > max {
		return max
	}
	return d
}

// Client dispatches vendor requests either through a managed gateway binding
// or directly over HTTP with a bounded retry loop.
type Client struct {
	http   *http.Client
	retry  RetryConfig
	logger *slog.Logger
}

// NewClient constructs a transport client with a tuned HTTP transport.
func NewClient(retry RetryConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	httpTransport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Client{
		http:   &http.Client{Transport: httpTransport},
		retry:  retry,
		logger: logger,
	}
}

// Dispatch sends the request, choosing the managed binding when one is
// provided and the direct path otherwise.
func (c *Client) Dispatch(ctx context.Context, binding GatewayBinding, req Request) (*Result, error) {
	if binding != nil {
		return binding.Run(ctx, req, c.retry)
	}
	return c.Direct(ctx, req)
}

// Direct performs the call over plain HTTP with the configured retry loop.
// Streaming requests return the raw body without buffering or parsing.
func (c *Client) Direct(ctx context.Context, req Request) (*Result, error) {
	// Streaming bodies outlive this call, so the hard timeout only bounds
	// non-streaming requests; streams are bounded by the caller's context.
	if c.retry.Timeout > 0 && !req.Stream {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.retry.Timeout)
		defer cancel()
	}

	attempts := c.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, retryAfter, retryable, err := c.once(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable || attempt == attempts {
			break
		}
		delay := c.retry.Delay(attempt)
		if retryAfter >= 0 {
			// The vendor asked for a specific wait; honor it within the cap.
			delay = c.retry.capDelay(retryAfter)
		}
		c.logger.Warn("vendor request failed, retrying",
			"endpoint", req.Endpoint, "attempt", attempt, "error", err)
		if err := sleep(ctx, delay); err != nil {
			return nil, apperror.Wrap(apperror.CodeExternalAPI, "vendor request cancelled", err)
		}
	}
	return nil, lastErr
}

// once performs a single attempt. retryAfter is negative when the vendor sent
// no Retry-After header.
func (c *Client) once(ctx context.Context, req Request) (result *Result, retryAfter time.Duration, retryable bool, err error) {
	body, err := json.Marshal(req.Body)
	if err != nil {
		return nil, -1, false, apperror.Wrap(apperror.CodeParams, "marshal vendor payload", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, -1, false, apperror.Wrap(apperror.CodeParams, "construct vendor request", err)
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set("User-Agent", userAgent)
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Set(key, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, -1, true, apperror.Wrap(apperror.CodeExternalAPI, "vendor request failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		resp.Body.Close()
		retryAfter = time.Duration(-1)
		if after, ok := parseRetryAfter(resp.Header, time.Now()); ok {
			retryAfter = after
		}
		// Raw vendor error bodies stay in logs; they may carry secrets or
		// internal hostnames.
		c.logger.Error("vendor returned error status",
			"endpoint", req.Endpoint, "status", resp.StatusCode, "body", strings.TrimSpace(string(raw)))
		err := apperror.Wrap(apperror.CodeExternalAPI,
			fmt.Sprintf("vendor returned status %d", resp.StatusCode),
			fmt.Errorf("status %d", resp.StatusCode))
		return nil, retryAfter, retryableStatus(resp.StatusCode), err
	}

	if req.Stream {
		return &Result{Stream: resp.Body}, -1, false, nil
	}

	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, -1, false, apperror.Wrap(apperror.CodeExternalAPI, "decode vendor response", err)
	}
	return &Result{
		Payload:     payload,
		EventID:     resp.Header.Get("Cf-Aig-Event-Id"),
		LogID:       resp.Header.Get("Cf-Aig-Log-Id"),
		CacheStatus: resp.Header.Get("Cf-Aig-Cache-Status"),
	}, -1, false, nil
}

// parseRetryAfter reads a Retry-After header as delay seconds or an HTTP date.
func parseRetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
