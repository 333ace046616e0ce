// Package catalog resolves model identifiers to their reference data.
package catalog

import "github.com/nicholasgriffintn/ai-platform-sub010/internal/models"

// Store looks up model configuration by id. Lookup returns nil for unknown
// models; callers apply safe defaults in that case.
type Store interface {
	Lookup(modelID string) *models.ModelConfig
}

// Static is a Store backed by a fixed configuration list.
type Static struct {
	byID map[string]models.ModelConfig
}

// NewStatic builds a Static store from configured models.
func NewStatic(configs []models.ModelConfig) *Static {
	byID := make(map[string]models.ModelConfig, len(configs))
	for _, cfg := range configs {
		byID[cfg.ID] = cfg
	}
	return &Static{byID: byID}
}

// Lookup returns the configuration for modelID, or nil when unknown.
func (s *Static) Lookup(modelID string) *models.ModelConfig {
	cfg, ok := s.byID[modelID]
	if !ok {
		return nil
	}
	return &cfg
}
