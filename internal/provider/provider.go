// Package provider defines the uniform adapter contract and the closed set
// of supported vendors.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/apperror"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/models"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/transport"
)

// Name is a sealed provider identifier. Adapters are resolved through the
// registry keyed by this enumeration; there is no default-case dispatch.
type Name string

const (
	OpenAI         Name = "openai"
	Anthropic      Name = "anthropic"
	GoogleAIStudio Name = "google-ai-studio"
	Bedrock        Name = "bedrock"
	Ollama         Name = "ollama"
	Groq           Name = "groq"
	Perplexity     Name = "perplexity-ai"
	OpenRouter     Name = "openrouter"
	Mistral        Name = "mistral"
	WorkersAI      Name = "workers-ai"
)

// All returns every supported provider name.
func All() []Name {
	return []Name{
		OpenAI, Anthropic, GoogleAIStudio, Bedrock, Ollama,
		Groq, Perplexity, OpenRouter, Mistral, WorkersAI,
	}
}

// ParseName validates a provider key against the sealed set.
func ParseName(s string) (Name, error) {
	for _, name := range All() {
		if string(name) == s {
			return name, nil
		}
	}
	return "", apperror.Newf(apperror.CodeParams, "unknown provider %q", s)
}

// UserSecretsStore resolves user-scoped stored API keys.
type UserSecretsStore interface {
	ProviderAPIKey(ctx context.Context, userID string, provider string) (string, bool)
}

// Secrets resolves vendor credentials with user-key precedence. It is built
// per request; adapters never cache resolved keys.
type Secrets struct {
	Users        UserSecretsStore
	Env          map[Name]string
	GatewayToken string
}

// APIKey resolves the key for a provider: user-scoped stored key first, then
// the environment secret.
func (s Secrets) APIKey(ctx context.Context, user *models.User, provider Name) (string, bool) {
	if s.Users != nil && user != nil {
		if key, ok := s.Users.ProviderAPIKey(ctx, user.ID, string(provider)); ok && key != "" {
			return key, true
		}
	}
	key, ok := s.Env[provider]
	return key, ok && key != ""
}

// Call is the request-scoped context handed to an adapter. Adapters are
// stateless; everything call-specific lives here.
type Call struct {
	Req     *models.ChatRequest
	Model   *models.ModelConfig
	Secrets Secrets
	Binding transport.GatewayBinding

	// Extra carries operator-configured headers merged into every request
	// for this provider, after the adapter's own headers.
	Extra http.Header
}

// APIKey resolves the vendor credential for this call, failing with a
// configuration error when absent.
func (c *Call) APIKey(ctx context.Context, provider Name) (string, error) {
	key, ok := c.Secrets.APIKey(ctx, c.Req.User, provider)
	if !ok {
		return "", apperror.Newf(apperror.CodeConfiguration, "no API key configured for provider %s", provider)
	}
	return key, nil
}

// GatewayHeaders returns the managed-gateway authorization and caller
// metadata envelope shared by every adapter.
func (c *Call) GatewayHeaders() http.Header {
	headers := http.Header{}
	if c.Secrets.GatewayToken != "" {
		headers.Set("cf-aig-authorization", "Bearer "+c.Secrets.GatewayToken)
	}
	meta := map[string]string{}
	if user := c.Req.User; user != nil {
		meta["userId"] = user.ID
		if user.Email != "" {
			meta["email"] = user.Email
		}
	} else if c.Req.AnonymousID != "" {
		meta["anonymousId"] = c.Req.AnonymousID
	}
	if len(meta) > 0 {
		if data, err := json.Marshal(meta); err == nil {
			headers.Set("cf-aig-metadata", string(data))
		}
	}
	return headers
}

// Adapter is the uniform per-vendor contract.
type Adapter interface {
	Name() Name

	// ValidateParams fails with CONFIGURATION_ERROR when a required secret
	// or binding is absent and PARAMS_ERROR when the model is missing.
	ValidateParams(ctx context.Context, c *Call) error

	// Endpoint selects the vendor URL; it may depend on the streaming flag
	// and, for image-capable models, on attached images.
	Endpoint(c *Call) (string, error)

	// Headers builds auth and metadata headers, resolving secrets fresh.
	Headers(ctx context.Context, c *Call) (http.Header, error)

	// Body maps the canonical request into the vendor wire body.
	Body(c *Call) (any, error)

	// Normalize converts the vendor's non-streaming envelope.
	Normalize(ctx context.Context, payload map[string]any, c *Call) (*models.NormalizedResponse, error)
}

// Registry maps the sealed provider set to adapters.
type Registry struct {
	adapters map[Name]Adapter
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Name]Adapter)}
}

// Register adds an adapter; registering the same name twice is an error.
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return fmt.Errorf("adapter must not be nil")
	}
	if _, exists := r.adapters[a.Name()]; exists {
		return fmt.Errorf("provider %q already registered", a.Name())
	}
	r.adapters[a.Name()] = a
	return nil
}

// Resolve returns the adapter for a provider name.
func (r *Registry) Resolve(name Name) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, apperror.Newf(apperror.CodeConfiguration, "provider %s is not registered", name)
	}
	return a, nil
}
