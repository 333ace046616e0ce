// Package gateway is the orchestrating façade: one canonical chat request in,
// one normalized response (or raw vendor stream) out, metered against the
// caller's quota.
package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/apperror"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/catalog"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/models"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/normalize"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/provider"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/transport"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/usage"
)

// Gateway wires the catalog, usage meter, provider registry and dispatcher.
// Metering happens here, around adapter dispatch: adapters themselves never
// consult quotas.
type Gateway struct {
	catalog      catalog.Store
	registry     *provider.Registry
	dispatcher   *provider.Dispatcher
	meter        *usage.Meter
	secrets      provider.Secrets
	binding      transport.GatewayBinding
	extraHeaders map[provider.Name]http.Header
	logger       *slog.Logger
}

// Options configures a Gateway.
type Options struct {
	Catalog    catalog.Store
	Registry   *provider.Registry
	Dispatcher *provider.Dispatcher
	Meter      *usage.Meter
	Secrets    provider.Secrets
	Binding    transport.GatewayBinding
	Logger     *slog.Logger

	// ExtraHeaders are operator-configured per-provider headers applied to
	// every outgoing request for that provider.
	ExtraHeaders map[provider.Name]http.Header
}

// New constructs a Gateway.
func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		catalog:      opts.Catalog,
		registry:     opts.Registry,
		dispatcher:   opts.Dispatcher,
		meter:        opts.Meter,
		secrets:      opts.Secrets,
		binding:      opts.Binding,
		extraHeaders: opts.ExtraHeaders,
		logger:       logger,
	}
}

// GetResponse runs one canonical request end to end: quota check, adapter
// dispatch, quota increment. Streaming requests return the vendor's open
// byte stream; the increment still happens once dispatch succeeds.
func (g *Gateway) GetResponse(ctx context.Context, req *models.ChatRequest) (*models.NormalizedResponse, io.ReadCloser, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, nil, apperror.New(apperror.CodeParams, "model is required")
	}

	cfg := g.catalog.Lookup(req.Model)

	if err := g.checkUsage(ctx, req, cfg); err != nil {
		return nil, nil, err
	}

	adapter, call, err := g.resolve(req, cfg)
	if err != nil {
		return nil, nil, err
	}

	resp, stream, err := g.dispatcher.GetResponse(ctx, adapter, call)
	if err != nil {
		return nil, nil, err
	}

	if err := g.incrementUsage(ctx, req, cfg); err != nil {
		// The vendor call already succeeded; losing the response over a
		// metering write is worse than a transient undercount.
		g.logger.Error("usage increment failed", "model", req.Model, "error", err)
	}
	return resp, stream, nil
}

// NormalizeChunk converts one raw streaming chunk for callers running their
// own stream loop.
func (g *Gateway) NormalizeChunk(raw []byte, eventType string) *models.StreamEvent {
	return normalize.Chunk(raw, eventType)
}

func (g *Gateway) resolve(req *models.ChatRequest, cfg *models.ModelConfig) (provider.Adapter, *provider.Call, error) {
	key := req.ProviderKey
	if key == "" && cfg != nil {
		key = cfg.Provider
	}
	name, err := provider.ParseName(key)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := g.registry.Resolve(name)
	if err != nil {
		return nil, nil, err
	}
	call := &provider.Call{
		Req:     req,
		Model:   cfg,
		Secrets: g.secrets,
		Binding: g.binding,
		Extra:   g.extraHeaders[name],
	}
	return adapter, call, nil
}

func (g *Gateway) checkUsage(ctx context.Context, req *models.ChatRequest, cfg *models.ModelConfig) error {
	if g.meter == nil {
		return nil
	}
	if req.User != nil {
		return g.meter.CheckUsage(ctx, req.User, cfg)
	}
	// Without an identity every caller would pool on one counter row.
	if strings.TrimSpace(req.AnonymousID) == "" {
		return apperror.New(apperror.CodeParams, "anonymous requests require an anonymous id")
	}
	return g.meter.CheckAnonymousUsage(ctx, req.AnonymousID, cfg)
}

func (g *Gateway) incrementUsage(ctx context.Context, req *models.ChatRequest, cfg *models.ModelConfig) error {
	if g.meter == nil {
		return nil
	}
	if req.User != nil {
		return g.meter.IncrementUsage(ctx, req.User, cfg)
	}
	return g.meter.IncrementAnonymousUsage(ctx, req.AnonymousID)
}
