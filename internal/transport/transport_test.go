package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/apperror"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(retry RetryConfig) *Client {
	c := NewClient(retry, quietLogger())
	return c
}

func TestDirectSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		w.Header().Set("Cf-Aig-Event-Id", "evt_1")
		w.Header().Set("Cf-Aig-Cache-Status", "HIT")
		w.Write([]byte(`{"response":"ok"}`))
	}))
	defer srv.Close()

	c := testClient(RetryConfig{MaxAttempts: 1})
	headers := http.Header{}
	headers.Set("Authorization", "Bearer sk-test")

	result, err := c.Direct(context.Background(), Request{
		Endpoint: srv.URL,
		Headers:  headers,
		Body:     map[string]any{"model": "m"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Payload["response"])
	assert.Equal(t, "evt_1", result.EventID)
	assert.Equal(t, "HIT", result.CacheStatus)
}

func TestDirectRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"response":"recovered"}`))
	}))
	defer srv.Close()

	c := testClient(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	result, err := c.Direct(context.Background(), Request{Endpoint: srv.URL, Body: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Payload["response"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestDirectExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	_, err := c.Direct(context.Background(), Request{Endpoint: srv.URL, Body: map[string]any{}})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeExternalAPI, apperror.CodeOf(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDirectDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key sk-secret"}}`))
	}))
	defer srv.Close()

	c := testClient(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond})
	_, err := c.Direct(context.Background(), Request{Endpoint: srv.URL, Body: map[string]any{}})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	// The vendor's raw error body never surfaces in the returned error.
	assert.NotContains(t, err.Error(), "sk-secret")
	assert.Contains(t, apperror.UserMessage(err), "status 401")
}

func TestDirectHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	past := time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", past)
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"response":"ok"}`))
	}))
	defer srv.Close()

	// The generic backoff would sleep 10s; the already-expired Retry-After
	// date means the retry fires immediately instead.
	c := testClient(RetryConfig{MaxAttempts: 2, BaseDelay: 10 * time.Second})
	start := time.Now()
	result, err := c.Direct(context.Background(), Request{Endpoint: srv.URL, Body: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Payload["response"])
	assert.Equal(t, int32(2), calls.Load())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDirectCapsRetryAfterAtMaxDelay(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3600")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"response":"ok"}`))
	}))
	defer srv.Close()

	c := testClient(RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})
	start := time.Now()
	_, err := c.Direct(context.Background(), Request{Endpoint: srv.URL, Body: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Less(t, time.Since(start), time.Second)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	h := http.Header{}
	_, ok := parseRetryAfter(h, now)
	assert.False(t, ok)

	h.Set("Retry-After", "2")
	d, ok := parseRetryAfter(h, now)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	h.Set("Retry-After", now.Add(90*time.Second).Format(http.TimeFormat))
	d, ok = parseRetryAfter(h, now)
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, d)

	h.Set("Retry-After", now.Add(-time.Minute).Format(http.TimeFormat))
	d, ok = parseRetryAfter(h, now)
	assert.True(t, ok)
	assert.Equal(t, time.Duration(0), d)

	h.Set("Retry-After", "soon")
	_, ok = parseRetryAfter(h, now)
	assert.False(t, ok)

	h.Set("Retry-After", "-5")
	_, ok = parseRetryAfter(h, now)
	assert.False(t, ok)
}

func TestDirectStreamReturnsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"choices\":[]}\n\n"))
	}))
	defer srv.Close()

	c := testClient(RetryConfig{MaxAttempts: 1, Timeout: time.Second})
	result, err := c.Direct(context.Background(), Request{Endpoint: srv.URL, Body: map[string]any{}, Stream: true})
	require.NoError(t, err)
	require.NotNil(t, result.Stream)
	defer result.Stream.Close()

	raw, err := io.ReadAll(result.Stream)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "data: ")
	assert.Nil(t, result.Payload)
}

func TestDispatchPrefersBinding(t *testing.T) {
	binding := &recordingBinding{}
	c := testClient(RetryConfig{MaxAttempts: 3})

	result, err := c.Dispatch(context.Background(), binding, Request{Endpoint: "https://unused.example"})
	require.NoError(t, err)
	assert.Equal(t, "from-binding", result.Payload["response"])
	assert.Equal(t, 3, binding.gotRetry.MaxAttempts)
}

type recordingBinding struct {
	gotRetry RetryConfig
}

func (b *recordingBinding) Run(_ context.Context, _ Request, retry RetryConfig) (*Result, error) {
	b.gotRetry = retry
	return &Result{Payload: map[string]any{"response": "from-binding"}}, nil
}

func TestRetryDelay(t *testing.T) {
	exp := RetryConfig{Backoff: "exponential", BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}
	assert.Equal(t, 500*time.Millisecond, exp.Delay(1))
	assert.Equal(t, time.Second, exp.Delay(2))
	assert.Equal(t, 2*time.Second, exp.Delay(3))
	assert.Equal(t, 30*time.Second, exp.Delay(20))

	lin := RetryConfig{Backoff: "linear", BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}
	assert.Equal(t, 500*time.Millisecond, lin.Delay(1))
	assert.Equal(t, time.Second, lin.Delay(2))
	assert.Equal(t, 1500*time.Millisecond, lin.Delay(3))

	// Zero-valued config falls back to sane defaults.
	assert.Equal(t, 500*time.Millisecond, RetryConfig{}.Delay(1))
	assert.Equal(t, 500*time.Millisecond, RetryConfig{}.Delay(0))

	// Vendor-requested delays are bounded by MaxDelay.
	assert.Equal(t, 10*time.Millisecond, RetryConfig{MaxDelay: 10 * time.Millisecond}.capDelay(time.Hour))
	assert.Equal(t, time.Second, RetryConfig{MaxDelay: 10 * time.Second}.capDelay(time.Second))
	assert.Equal(t, 30*time.Second, RetryConfig{}.capDelay(time.Hour))
}

func TestRetryableStatus(t *testing.T) {
	for _, status := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, retryableStatus(status), status)
	}
	for _, status := range []int{400, 401, 403, 404, 422} {
		assert.False(t, retryableStatus(status), status)
	}
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)

	assert.NoError(t, sleep(context.Background(), 0))
}
