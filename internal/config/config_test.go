package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
server:
  port: 8080
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Usage.DailyLimit)
	assert.Equal(t, 10, cfg.Usage.DailyLimitAnonymous)
	assert.Equal(t, 200, cfg.Usage.DailyLimitPro)
	assert.Equal(t, 0.0005, cfg.Usage.BaselineInputCost)
	assert.Equal(t, 0.0015, cfg.Usage.BaselineOutputCost)
	assert.Equal(t, 3, cfg.Transport.MaxAttempts)
	assert.Equal(t, "exponential", cfg.Transport.Backoff)
	assert.Equal(t, 500*time.Millisecond, cfg.Transport.BaseDelay)
	assert.Equal(t, "usage.db", cfg.Database.Path)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  port: 9090
providers:
  openai:
    api_key: sk-test
  anthropic:
    api_key_env: ANTHROPIC_KEY
  workers-ai:
    account_id: acct-1
  bedrock:
    region: us-east-1
models:
  - id: gpt-test
    provider: openai
    is_free: true
    supports_tool_calls: true
    max_tokens: 4096
  - id: claude-test
    provider: anthropic
    cost_per_1k_input_tokens: 0.003
    cost_per_1k_output_tokens: 0.015
transport:
  max_attempts: 5
  backoff: linear
usage:
  daily_limit: 25
`))
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Providers["openai"].APIKey)
	assert.Equal(t, "acct-1", cfg.Providers["workers-ai"].AccountID)
	assert.Equal(t, "us-east-1", cfg.Providers["bedrock"].Region)
	require.Len(t, cfg.Models, 2)
	assert.True(t, cfg.Models[0].SupportsToolCalls)
	assert.Equal(t, 4096, cfg.Models[0].MaxTokens)
	assert.Equal(t, 0.003, cfg.Models[1].CostPer1kInputTokens)
	assert.Equal(t, 5, cfg.Transport.MaxAttempts)
	assert.Equal(t, "linear", cfg.Transport.Backoff)
	assert.Equal(t, 25, cfg.Usage.DailyLimit)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  port: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestLoadRejectsDuplicateModels(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  port: 8080
models:
  - id: m1
    provider: openai
  - id: m1
    provider: groq
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configured twice")
}

func TestLoadRejectsBadBackoff(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  port: 8080
transport:
  backoff: jittered
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backoff")
}

func TestLoadRejectsBadHeaderName(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  port: 8080
providers:
  openai:
    headers:
      "bad header!": value
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestResolveAPIKeyEnvFallback(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "sk-from-env")

	p := ProviderConfig{APIKeyEnv: "TEST_PROVIDER_KEY"}
	assert.Equal(t, "sk-from-env", p.ResolveAPIKey())

	// A literal key wins over the environment variable.
	p.APIKey = "sk-direct"
	assert.Equal(t, "sk-direct", p.ResolveAPIKey())

	assert.Empty(t, ProviderConfig{}.ResolveAPIKey())
}
