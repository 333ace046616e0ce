// Package bedrockstyle implements the AWS Bedrock Converse API adapter,
// reached through the managed gateway's Bedrock binding.
package bedrockstyle

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

// Adapter serves Bedrock Converse requests.
type Adapter struct {
	region     string
	normalizer *normalize.Normalizer
}

// New constructs the adapter for one AWS region.
func New(region string, n *normalize.Normalizer) *Adapter {
	return &Adapter{region: region, normalizer: n}
}

func (a *Adapter) Name() provider.Name { return provider.Bedrock }

func (a *Adapter) ValidateParams(ctx context.Context, c *provider.Call) error {
	if strings.TrimSpace(c.Req.Model) == "" {
		return apperror.New(apperror.CodeParams, "model is required")
	}
	if a.region == "" {
		return apperror.New(apperror.CodeConfiguration, "bedrock region is not configured")
	}
	if _, err := c.APIKey(ctx, provider.Bedrock); err != nil {
		return err
	}
	return nil
}

func (a *Adapter) Endpoint(c *provider.Call) (string, error) {
	model := c.Req.Model
	if c.Model != nil && c.Model.Name != "" {
		model = c.Model.Name
	}
	action := "converse"
	if c.Req.Stream {
		action = "converse-stream"
	}
	return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/%s", a.region, model, action), nil
}

func (a *Adapter) Headers(ctx context.Context, c *provider.Call) (http.Header, error) {
	key, err := c.APIKey(ctx, provider.Bedrock)
	if err != nil {
		return nil, err
	}
	headers := c.GatewayHeaders()
	headers.Set("Authorization", "Bearer "+key)
	return headers, nil
}

func (a *Adapter) Body(c *provider.Call) (any, error) {
	return mapper.Map(c.Req, string(provider.Bedrock), c.Model)
}

func (a *Adapter) Normalize(ctx context.Context, payload map[string]any, c *provider.Call) (*models.NormalizedResponse, error) {
	return a.normalizer.Response(ctx, payload, string(provider.Bedrock), normalize.Options{
		Model:    c.Req.Model,
		Modality: c.Model.ModalityType(),
	})
}
