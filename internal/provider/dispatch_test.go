package provider

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/apperror"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/metrics"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/models"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/transport"
)

type spyRecorder struct {
	mu      sync.Mutex
	records []metrics.Record
}

func (s *spyRecorder) Record(r metrics.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

func (s *spyRecorder) last(t *testing.T) metrics.Record {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.records)
	return s.records[len(s.records)-1]
}

// echoAdapter targets a test server and normalizes via the generic chain.
type echoAdapter struct {
	stubAdapter
	endpoint string
	fail     error
}

func (a echoAdapter) ValidateParams(context.Context, *Call) error { return a.fail }
func (a echoAdapter) Endpoint(*Call) (string, error)              { return a.endpoint, nil }
func (a echoAdapter) Normalize(_ context.Context, payload map[string]any, _ *Call) (*models.NormalizedResponse, error) {
	s, _ := payload["response"].(string)
	return &models.NormalizedResponse{Response: s, Raw: payload}, nil
}

func testDispatcher(rec metrics.Recorder) *Dispatcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Dispatcher{
		Transport: transport.NewClient(transport.RetryConfig{MaxAttempts: 1}, logger),
		Metrics:   rec,
	}
}

func TestDispatcherNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cf-Aig-Event-Id", "evt_7")
		w.Write([]byte(`{"response":"hello"}`))
	}))
	defer srv.Close()

	spy := &spyRecorder{}
	d := testDispatcher(spy)
	temp := 0.5
	call := &Call{Req: &models.ChatRequest{Model: "m1", Temperature: &temp}}

	resp, stream, err := d.GetResponse(context.Background(), echoAdapter{
		stubAdapter: stubAdapter{name: OpenAI},
		endpoint:    srv.URL,
	}, call)
	require.NoError(t, err)
	assert.Nil(t, stream)
	assert.Equal(t, "hello", resp.Response)
	assert.Equal(t, "evt_7", resp.EventID)

	record := spy.last(t)
	assert.Equal(t, "openai", record.Provider)
	assert.Equal(t, "m1", record.Model)
	assert.True(t, record.Success)
	assert.Equal(t, 0.5, record.Settings["temperature"])
}

func TestDispatcherStreamingHandsBackRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n"))
	}))
	defer srv.Close()

	d := testDispatcher(nil)
	call := &Call{Req: &models.ChatRequest{Model: "m1", Stream: true}}

	resp, stream, err := d.GetResponse(context.Background(), echoAdapter{
		stubAdapter: stubAdapter{name: OpenAI},
		endpoint:    srv.URL,
	}, call)
	require.NoError(t, err)
	assert.Nil(t, resp)
	require.NotNil(t, stream)
	defer stream.Close()

	raw, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"content":"Hi"`)
}

func TestDispatcherMergesExtraHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tenant-7", r.Header.Get("X-Org-Id"))
		w.Write([]byte(`{"response":"ok"}`))
	}))
	defer srv.Close()

	d := testDispatcher(nil)
	extra := http.Header{}
	extra.Set("X-Org-Id", "tenant-7")
	call := &Call{Req: &models.ChatRequest{Model: "m1"}, Extra: extra}

	_, _, err := d.GetResponse(context.Background(), echoAdapter{
		stubAdapter: stubAdapter{name: OpenAI},
		endpoint:    srv.URL,
	}, call)
	require.NoError(t, err)
}

func TestDispatcherValidationFailureStillRecordsMetrics(t *testing.T) {
	spy := &spyRecorder{}
	d := testDispatcher(spy)
	call := &Call{Req: &models.ChatRequest{Model: "m1"}}

	failure := apperror.New(apperror.CodeConfiguration, "missing key")
	_, _, err := d.GetResponse(context.Background(), echoAdapter{
		stubAdapter: stubAdapter{name: Anthropic},
		fail:        failure,
	}, call)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeConfiguration, apperror.CodeOf(err))

	record := spy.last(t)
	assert.False(t, record.Success)
	assert.Equal(t, "anthropic", record.Provider)
}

func TestDispatcherVendorErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	spy := &spyRecorder{}
	d := testDispatcher(spy)
	call := &Call{Req: &models.ChatRequest{Model: "m1"}}

	_, _, err := d.GetResponse(context.Background(), echoAdapter{
		stubAdapter: stubAdapter{name: OpenAI},
		endpoint:    srv.URL,
	}, call)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeExternalAPI, apperror.CodeOf(err))
	assert.False(t, spy.last(t).Success)
}
