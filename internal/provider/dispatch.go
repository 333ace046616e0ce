package provider

import (
	"context"
	"io"
	"time"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/metrics"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/models"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/transport"
)

// Dispatcher runs the adapter orchestration: validate, resolve endpoint and
// headers, map parameters, call transport and normalize the result.
type Dispatcher struct {
	Transport *transport.Client
	Metrics   metrics.Recorder
}

// GetResponse executes one canonical request against an adapter. For
// non-streaming calls the normalized response is returned; for streaming
// calls the vendor's open byte stream is handed back untouched. A metrics
// record is emitted whether or not the call succeeds.
func (d *Dispatcher) GetResponse(ctx context.Context, a Adapter, c *Call) (resp *models.NormalizedResponse, stream io.ReadCloser, err error) {
	start := time.Now()
	defer func() {
		if d.Metrics == nil {
			return
		}
		d.Metrics.Record(metrics.Record{
			Provider: string(a.Name()),
			Model:    c.Req.Model,
			Duration: time.Since(start),
			Stream:   c.Req.Stream,
			Success:  err == nil,
			Settings: callSettings(c.Req),
		})
	}()

	if err = a.ValidateParams(ctx, c); err != nil {
		return nil, nil, err
	}

	endpoint, err := a.Endpoint(c)
	if err != nil {
		return nil, nil, err
	}
	headers, err := a.Headers(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	for key, values := range c.Extra {
		for _, v := range values {
			headers.Set(key, v)
		}
	}
	body, err := a.Body(c)
	if err != nil {
		return nil, nil, err
	}

	result, err := d.Transport.Dispatch(ctx, c.Binding, transport.Request{
		Endpoint: endpoint,
		Headers:  headers,
		Body:     body,
		Stream:   c.Req.Stream,
	})
	if err != nil {
		return nil, nil, err
	}

	if c.Req.Stream {
		return nil, result.Stream, nil
	}

	resp, err = a.Normalize(ctx, result.Payload, c)
	if err != nil {
		return nil, nil, err
	}
	resp.EventID = result.EventID
	resp.LogID = result.LogID
	resp.CacheStatus = result.CacheStatus
	return resp, nil, nil
}

func callSettings(req *models.ChatRequest) map[string]any {
	settings := map[string]any{}
	if req.Temperature != nil {
		settings["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		settings["top_p"] = *req.TopP
	}
	if req.TopK != nil {
		settings["top_k"] = *req.TopK
	}
	if req.MaxTokens > 0 {
		settings["max_tokens"] = req.MaxTokens
	}
	if req.Seed != nil {
		settings["seed"] = *req.Seed
	}
	return settings
}
