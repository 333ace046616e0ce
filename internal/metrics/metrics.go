// Package metrics records per-call provider telemetry.
package metrics

import (
	"log/slog"
	"time"
)

// Record captures one provider call, emitted regardless of outcome.
type Record struct {
	Provider string
	Model    string
	Duration time.Duration
	Stream   bool
	Success  bool
	Settings map[string]any
}

// Recorder receives call records.
type Recorder interface {
	Record(rec Record)
}

// SlogRecorder logs records through slog.
type SlogRecorder struct {
	Logger *slog.Logger
}

func (r SlogRecorder) Record(rec Record) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("provider call",
		"provider", rec.Provider,
		"model", rec.Model,
		"duration_ms", rec.Duration.Milliseconds(),
		"stream", rec.Stream,
		"success", rec.Success,
		"settings", rec.Settings,
	)
}

// Nop discards all records.
type Nop struct{}

func (Nop) Record(Record) {}
