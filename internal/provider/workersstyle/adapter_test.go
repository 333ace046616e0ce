package workersstyle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/apperror"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/models"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/normalize"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/provider"
)

func testCall() *provider.Call {
	return &provider.Call{
		Req: &models.ChatRequest{
			Model:    "@cf/meta/llama-3-8b-instruct",
			Messages: []models.Message{{Role: models.RoleUser, Content: models.TextContent("hi")}},
		},
		Secrets: provider.Secrets{Env: map[provider.Name]string{provider.WorkersAI: "cf-key"}},
	}
}

func TestEndpoint(t *testing.T) {
	a := New("acct-123", normalize.New(nil))
	got, err := a.Endpoint(testCall())
	require.NoError(t, err)
	assert.Equal(t, "https://api.cloudflare.com/client/v4/accounts/acct-123/ai/run/@cf/meta/llama-3-8b-instruct", got)
}

func TestValidateParamsRequiresAccountID(t *testing.T) {
	a := New("", normalize.New(nil))
	err := a.ValidateParams(context.Background(), testCall())
	require.Error(t, err)
	assert.Equal(t, apperror.CodeConfiguration, apperror.CodeOf(err))
}

func TestNormalizeReadsResultEnvelope(t *testing.T) {
	a := New("acct-123", normalize.New(nil))
	payload := map[string]any{"result": map[string]any{"response": "hello from workers"}}
	resp, err := a.Normalize(context.Background(), payload, testCall())
	require.NoError(t, err)
	assert.Equal(t, "hello from workers", resp.Response)
}
