// Package googlestyle implements the Google AI Studio (Gemini) adapter.
package googlestyle

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

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Adapter serves the Gemini generateContent family of endpoints.
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

func (a *Adapter) Name() provider.Name { return provider.GoogleAIStudio }

func (a *Adapter) ValidateParams(ctx context.Context, c *provider.Call) error {
	if strings.TrimSpace(c.Req.Model) == "" {
		return apperror.New(apperror.CodeParams, "model is required")
	}
	if len(c.Req.Messages) == 0 {
		return apperror.New(apperror.CodeParams, "at least one message is required")
	}
	if _, err := c.APIKey(ctx, provider.GoogleAIStudio); err != nil {
		return err
	}
	return nil
}

// Endpoint depends on the streaming flag and, for image models, on whether
// the request carries an image attachment (edit vs generate).
func (a *Adapter) Endpoint(c *provider.Call) (string, error) {
	model := c.Req.Model
	if c.Model != nil && c.Model.Name != "" {
		model = c.Model.Name
	}

	if c.Model.ModalityType() == "image" {
		action := "generateImage"
		if c.Req.HasImageAttachment() {
			action = "editImage"
		}
		return fmt.Sprintf("%s/models/%s:%s", a.baseURL, model, action), nil
	}

	if c.Req.Stream {
		return fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", a.baseURL, model), nil
	}
	return fmt.Sprintf("%s/models/%s:generateContent", a.baseURL, model), nil
}

func (a *Adapter) Headers(ctx context.Context, c *provider.Call) (http.Header, error) {
	key, err := c.APIKey(ctx, provider.GoogleAIStudio)
	if err != nil {
		return nil, err
	}
	headers := c.GatewayHeaders()
	headers.Set("x-goog-api-key", key)
	return headers, nil
}

func (a *Adapter) Body(c *provider.Call) (any, error) {
	return mapper.Map(c.Req, string(provider.GoogleAIStudio), c.Model)
}

func (a *Adapter) Normalize(ctx context.Context, payload map[string]any, c *provider.Call) (*models.NormalizedResponse, error) {
	return a.normalizer.Response(ctx, payload, string(provider.GoogleAIStudio), normalize.Options{
		Model:    c.Req.Model,
		Modality: c.Model.ModalityType(),
	})
}
