package googlestyle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/models"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/normalize"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/provider"
)

func testCall() *provider.Call {
	return &provider.Call{
		Req: &models.ChatRequest{
			Model:    "gemini-pro",
			Messages: []models.Message{{Role: models.RoleUser, Content: models.TextContent("hi")}},
		},
		Secrets: provider.Secrets{Env: map[provider.Name]string{provider.GoogleAIStudio: "g-key"}},
	}
}

func TestEndpointSelection(t *testing.T) {
	a := New("", normalize.New(nil))

	c := testCall()
	got, err := a.Endpoint(c)
	require.NoError(t, err)
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-pro:generateContent", got)

	c.Req.Stream = true
	got, err = a.Endpoint(c)
	require.NoError(t, err)
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-pro:streamGenerateContent?alt=sse", got)
}

func TestEndpointImageModality(t *testing.T) {
	a := New("", normalize.New(nil))

	c := testCall()
	c.Model = &models.ModelConfig{Type: []string{"image"}}
	got, err := a.Endpoint(c)
	require.NoError(t, err)
	assert.Contains(t, got, ":generateImage")

	// With an image attached the request becomes an edit.
	c.Req.Messages = []models.Message{{
		Role: models.RoleUser,
		Content: models.Content{Parts: []models.Part{
			{Type: models.PartImage, URL: "data:image/png;base64,eA=="},
		}},
	}}
	got, err = a.Endpoint(c)
	require.NoError(t, err)
	assert.Contains(t, got, ":editImage")
}

func TestHeaders(t *testing.T) {
	a := New("", normalize.New(nil))
	headers, err := a.Headers(context.Background(), testCall())
	require.NoError(t, err)
	assert.Equal(t, "g-key", headers.Get("x-goog-api-key"))
}

func TestModelNameOverride(t *testing.T) {
	a := New("", normalize.New(nil))
	c := testCall()
	c.Model = &models.ModelConfig{Name: "gemini-2.0-flash"}
	got, err := a.Endpoint(c)
	require.NoError(t, err)
	assert.Contains(t, got, "models/gemini-2.0-flash:")
}
