// Package workersstyle implements the Cloudflare Workers AI adapter.
package workersstyle

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/apperror"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/mapper"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/models"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/normalize"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/provider"
)

// Adapter serves Workers AI models through the Cloudflare REST API.
type Adapter struct {
	accountID  string
	normalizer *normalize.Normalizer
}

// New constructs the adapter for one Cloudflare account.
func New(accountID string, n *normalize.Normalizer) *Adapter {
	return &Adapter{accountID: accountID, normalizer: n}
}

func (a *Adapter) Name() provider.Name { return provider.WorkersAI }

func (a *Adapter) ValidateParams(ctx context.Context, c *provider.Call) error {
	if strings.TrimSpace(c.Req.Model) == "" {
		return apperror.New(apperror.CodeParams, "model is required")
	}
	if a.accountID == "" {
		return apperror.New(apperror.CodeConfiguration, "workers-ai account id is not configured")
	}
	if _, err := c.APIKey(ctx, provider.WorkersAI); err != nil {
		return err
	}
	return nil
}

func (a *Adapter) Endpoint(c *provider.Call) (string, error) {
	model := c.Req.Model
	if c.Model != nil && c.Model.Name != "" {
		model = c.Model.Name
	}
	return fmt.Sprintf("https://api.cloudflare.com/client/v4/accounts/%s/ai/run/%s", a.accountID, model), nil
}

func (a *Adapter) Headers(ctx context.Context, c *provider.Call) (http.Header, error) {
	key, err := c.APIKey(ctx, provider.WorkersAI)
	if err != nil {
		return nil, err
	}
	headers := c.GatewayHeaders()
	headers.Set("Authorization", "Bearer "+key)
	return headers, nil
}

func (a *Adapter) Body(c *provider.Call) (any, error) {
	return mapper.Map(c.Req, string(provider.WorkersAI), c.Model)
}

func (a *Adapter) Normalize(ctx context.Context, payload map[string]any, c *provider.Call) (*models.NormalizedResponse, error) {
	return a.normalizer.Response(ctx, payload, string(provider.WorkersAI), normalize.Options{
		Model:    c.Req.Model,
		Modality: c.Model.ModalityType(),
	})
}
