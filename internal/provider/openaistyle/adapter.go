// Package openaistyle implements the adapter family for vendors speaking the
// OpenAI chat-completions wire format: OpenAI itself plus Groq, Perplexity,
// OpenRouter, Mistral and Ollama, which differ only in endpoint, auth and
// system-prompt policy.
package openaistyle

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

var defaultBaseURLs = map[provider.Name]string{
	provider.OpenAI:     "https://api.openai.com/v1",
	provider.Groq:       "https://api.groq.com/openai/v1",
	provider.Perplexity: "https://api.perplexity.ai",
	provider.OpenRouter: "https://openrouter.ai/api/v1",
	provider.Mistral:    "https://api.mistral.ai/v1",
	provider.Ollama:     "http://localhost:11434/v1",
}

// Adapter serves one OpenAI-compatible vendor.
type Adapter struct {
	name        string
	providerKey provider.Name
	baseURL     string
	requiresKey bool
	normalizer  *normalize.Normalizer
}

// New constructs an adapter for the given vendor. An empty baseURL selects
// the vendor's public endpoint. Ollama does not require an API key.
func New(name provider.Name, baseURL string, n *normalize.Normalizer) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURLs[name]
	}
	return &Adapter{
		name:        string(name),
		providerKey: name,
		baseURL:     strings.TrimRight(baseURL, "/"),
		requiresKey: name != provider.Ollama,
		normalizer:  n,
	}
}

// Call aliases the provider call context for readability.
type Call = provider.Call

func (a *Adapter) Name() provider.Name { return a.providerKey }

func (a *Adapter) ValidateParams(ctx context.Context, c *Call) error {
	if strings.TrimSpace(c.Req.Model) == "" {
		return apperror.New(apperror.CodeParams, "model is required")
	}
	if len(c.Req.Messages) == 0 {
		return apperror.New(apperror.CodeParams, "at least one message is required")
	}
	if a.requiresKey {
		if _, err := c.APIKey(ctx, a.providerKey); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) Endpoint(c *Call) (string, error) {
	return a.baseURL + "/chat/completions", nil
}

func (a *Adapter) Headers(ctx context.Context, c *Call) (http.Header, error) {
	headers := c.GatewayHeaders()
	if a.requiresKey {
		key, err := c.APIKey(ctx, a.providerKey)
		if err != nil {
			return nil, err
		}
		headers.Set("Authorization", "Bearer "+key)
	}
	return headers, nil
}

func (a *Adapter) Body(c *Call) (any, error) {
	return mapper.Map(c.Req, a.name, c.Model)
}

func (a *Adapter) Normalize(ctx context.Context, payload map[string]any, c *Call) (*models.NormalizedResponse, error) {
	return a.normalizer.Response(ctx, payload, a.name, normalize.Options{
		Model:    c.Req.Model,
		Modality: c.Model.ModalityType(),
	})
}
