package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/models"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Models    []models.ModelConfig      `yaml:"models"`
	Usage     UsageConfig               `yaml:"usage"`
	Transport TransportConfig           `yaml:"transport"`
	Database  DatabaseConfig            `yaml:"database"`
	Gateway   GatewayConfig             `yaml:"gateway"`
}

// GatewayConfig configures the optional managed AI gateway channel. An empty
// token disables the cf-aig-authorization header.
type GatewayConfig struct {
	Token string `yaml:"token"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ProviderConfig captures authentication and routing info for a provider.
// APIKeyEnv names an environment variable consulted when APIKey is empty.
type ProviderConfig struct {
	APIKey    string            `yaml:"api_key"`
	APIKeyEnv string            `yaml:"api_key_env"`
	BaseURL   string            `yaml:"base_url"`
	AccountID string            `yaml:"account_id"`
	Region    string            `yaml:"region"`
	Headers   map[string]string `yaml:"headers"`
}

// ResolveAPIKey returns the configured key, falling back to the environment.
func (p ProviderConfig) ResolveAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return ""
}

// UsageConfig holds quota limits and cost baselines for the usage meter.
type UsageConfig struct {
	DailyLimit          int     `yaml:"daily_limit"`
	DailyLimitAnonymous int     `yaml:"daily_limit_anonymous"`
	DailyLimitPro       int     `yaml:"daily_limit_pro"`
	BaselineInputCost   float64 `yaml:"baseline_input_cost"`
	BaselineOutputCost  float64 `yaml:"baseline_output_cost"`
}

// TransportConfig tunes the direct-dispatch retry loop.
type TransportConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     string        `yaml:"backoff"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DatabaseConfig locates the SQLite usage database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Load reads YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Usage.DailyLimit == 0 {
		c.Usage.DailyLimit = 50
	}
	if c.Usage.DailyLimitAnonymous == 0 {
		c.Usage.DailyLimitAnonymous = 10
	}
	if c.Usage.DailyLimitPro == 0 {
		c.Usage.DailyLimitPro = 200
	}
	if c.Usage.BaselineInputCost == 0 {
		c.Usage.BaselineInputCost = 0.0005
	}
	if c.Usage.BaselineOutputCost == 0 {
		c.Usage.BaselineOutputCost = 0.0015
	}
	if c.Transport.MaxAttempts == 0 {
		c.Transport.MaxAttempts = 3
	}
	if c.Transport.Backoff == "" {
		c.Transport.Backoff = "exponential"
	}
	if c.Transport.BaseDelay == 0 {
		c.Transport.BaseDelay = 500 * time.Millisecond
	}
	if c.Transport.MaxDelay == 0 {
		c.Transport.MaxDelay = 30 * time.Second
	}
	if c.Transport.Timeout == 0 {
		c.Transport.Timeout = 60 * time.Second
	}
	if c.Database.Path == "" {
		c.Database.Path = "usage.db"
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	for name, provider := range c.Providers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("provider name must not be empty")
		}
		for headerKey := range provider.Headers {
			if !isCanonicalHTTPHeader(headerKey) {
				return fmt.Errorf("provider %s: header %q is not a valid canonical HTTP header", name, headerKey)
			}
		}
	}

	seen := make(map[string]bool, len(c.Models))
	for _, model := range c.Models {
		if strings.TrimSpace(model.ID) == "" {
			return fmt.Errorf("model id must not be empty")
		}
		if strings.TrimSpace(model.Provider) == "" {
			return fmt.Errorf("model %s: provider must be set", model.ID)
		}
		if seen[model.ID] {
			return fmt.Errorf("model %s configured twice", model.ID)
		}
		seen[model.ID] = true
	}

	switch c.Transport.Backoff {
	case "exponential", "linear":
	default:
		return fmt.Errorf("transport.backoff must be exponential or linear, got %q", c.Transport.Backoff)
	}

	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}
	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
