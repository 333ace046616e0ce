package provider

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/apperror"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/models"
)

type stubAdapter struct{ name Name }

func (a stubAdapter) Name() Name                                  { return a.name }
func (a stubAdapter) ValidateParams(context.Context, *Call) error { return nil }
func (a stubAdapter) Endpoint(*Call) (string, error)              { return "https://stub.example", nil }
func (a stubAdapter) Headers(context.Context, *Call) (http.Header, error) {
	return http.Header{}, nil
}
func (a stubAdapter) Body(*Call) (any, error) { return map[string]any{}, nil }
func (a stubAdapter) Normalize(context.Context, map[string]any, *Call) (*models.NormalizedResponse, error) {
	return &models.NormalizedResponse{}, nil
}

func TestParseName(t *testing.T) {
	for _, name := range All() {
		parsed, err := ParseName(string(name))
		require.NoError(t, err)
		assert.Equal(t, name, parsed)
	}

	_, err := ParseName("made-up-vendor")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeParams, apperror.CodeOf(err))
}

func TestRegistryResolveAll(t *testing.T) {
	r := NewRegistry()
	for _, name := range All() {
		require.NoError(t, r.Register(stubAdapter{name: name}))
	}
	for _, name := range All() {
		a, err := r.Resolve(name)
		require.NoError(t, err)
		assert.Equal(t, name, a.Name())
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubAdapter{name: OpenAI}))
	assert.Error(t, r.Register(stubAdapter{name: OpenAI}))
	assert.Error(t, r.Register(nil))
}

func TestRegistryUnregisteredProvider(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(Anthropic)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeConfiguration, apperror.CodeOf(err))
}

type stubSecrets map[string]string

func (s stubSecrets) ProviderAPIKey(_ context.Context, userID, provider string) (string, bool) {
	key, ok := s[userID+"/"+provider]
	return key, ok
}

func TestSecretsUserKeyTakesPrecedence(t *testing.T) {
	secrets := Secrets{
		Users: stubSecrets{"u1/openai": "sk-user"},
		Env:   map[Name]string{OpenAI: "sk-env"},
	}

	key, ok := secrets.APIKey(context.Background(), &models.User{ID: "u1"}, OpenAI)
	require.True(t, ok)
	assert.Equal(t, "sk-user", key)

	// Other users and anonymous callers fall back to the environment secret.
	key, ok = secrets.APIKey(context.Background(), &models.User{ID: "u2"}, OpenAI)
	require.True(t, ok)
	assert.Equal(t, "sk-env", key)

	key, ok = secrets.APIKey(context.Background(), nil, OpenAI)
	require.True(t, ok)
	assert.Equal(t, "sk-env", key)
}

func TestSecretsMissingKey(t *testing.T) {
	secrets := Secrets{Env: map[Name]string{OpenAI: ""}}
	_, ok := secrets.APIKey(context.Background(), nil, OpenAI)
	assert.False(t, ok)
	_, ok = secrets.APIKey(context.Background(), nil, Anthropic)
	assert.False(t, ok)
}

func TestCallAPIKeyMissingIsConfigurationError(t *testing.T) {
	c := &Call{Req: &models.ChatRequest{}}
	_, err := c.APIKey(context.Background(), Anthropic)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeConfiguration, apperror.CodeOf(err))
}

func TestGatewayHeadersAuthenticatedUser(t *testing.T) {
	c := &Call{
		Req: &models.ChatRequest{
			User: &models.User{ID: "u1", Email: "u1@example.com"},
		},
		Secrets: Secrets{GatewayToken: "gw-token"},
	}

	headers := c.GatewayHeaders()
	assert.Equal(t, "Bearer gw-token", headers.Get("cf-aig-authorization"))
	meta := headers.Get("cf-aig-metadata")
	assert.Contains(t, meta, `"userId":"u1"`)
	assert.Contains(t, meta, `"email":"u1@example.com"`)
}

func TestGatewayHeadersAnonymousCaller(t *testing.T) {
	c := &Call{Req: &models.ChatRequest{AnonymousID: "anon-9"}}

	headers := c.GatewayHeaders()
	assert.Empty(t, headers.Get("cf-aig-authorization"))
	assert.Contains(t, headers.Get("cf-aig-metadata"), `"anonymousId":"anon-9"`)
}

func TestGatewayHeadersNoIdentity(t *testing.T) {
	c := &Call{Req: &models.ChatRequest{}}
	headers := c.GatewayHeaders()
	assert.Empty(t, headers.Get("cf-aig-metadata"))
}
