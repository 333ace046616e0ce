// Package anthropicstyle implements the Anthropic messages API adapter.
package anthropicstyle

import (
	"context"
	"net/http"
	"strings"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/apperror"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/mapper"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/models"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/normalize"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/provider"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
)

// Adapter serves the Anthropic messages API.
type Adapter struct {
	baseURL    string
	normalizer *normalize.Normalizer
}

// New constructs the adapter. An empty baseURL selects the public endpoint.
func New(baseURL string, n *normalize.Normalizer) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{baseURL: strings.TrimRight(baseURL, "/"), normalizer: n}
}

func (a *Adapter) Name() provider.Name { return provider.Anthropic }

func (a *Adapter) ValidateParams(ctx context.Context, c *provider.Call) error {
	if strings.TrimSpace(c.Req.Model) == "" {
		return apperror.New(apperror.CodeParams, "model is required")
	}
	if len(c.Req.Messages) == 0 {
		return apperror.New(apperror.CodeParams, "at least one message is required")
	}
	if _, err := c.APIKey(ctx, provider.Anthropic); err != nil {
		return err
	}
	return nil
}

func (a *Adapter) Endpoint(c *provider.Call) (string, error) {
	return a.baseURL + "/v1/messages", nil
}

func (a *Adapter) Headers(ctx context.Context, c *provider.Call) (http.Header, error) {
	key, err := c.APIKey(ctx, provider.Anthropic)
	if err != nil {
		return nil, err
	}
	headers := c.GatewayHeaders()
	headers.Set("x-api-key", key)
	headers.Set("anthropic-version", apiVersion)
	return headers, nil
}

func (a *Adapter) Body(c *provider.Call) (any, error) {
	return mapper.Map(c.Req, string(provider.Anthropic), c.Model)
}

func (a *Adapter) Normalize(ctx context.Context, payload map[string]any, c *provider.Call) (*models.NormalizedResponse, error) {
	return a.normalizer.Response(ctx, payload, string(provider.Anthropic), normalize.Options{
		Model:    c.Req.Model,
		Modality: c.Model.ModalityType(),
	})
}
