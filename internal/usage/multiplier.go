package usage

import (
	"math"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/models"
)

// CostMultiplier scales pro-tier quota consumption by the model's token cost
// relative to the baseline: ceil of the mean of the input and output cost
// ratios, floored to 1. Models without cost data get multiplier 1.
func CostMultiplier(cfg *models.ModelConfig, baseline Baseline) int {
	if cfg == nil || baseline.InputCost <= 0 || baseline.OutputCost <= 0 {
		return 1
	}
	if cfg.CostPer1kInputTokens <= 0 && cfg.CostPer1kOutputTokens <= 0 {
		return 1
	}
	inputRatio := cfg.CostPer1kInputTokens / baseline.InputCost
	outputRatio := cfg.CostPer1kOutputTokens / baseline.OutputCost
	multiplier := int(math.Ceil((inputRatio + outputRatio) / 2))
	if multiplier < 1 {
		return 1
	}
	return multiplier
}
