package predictor

import (
	"context"
	"time"
)

// Fit statuses reported by the model service
const (
	FitCompleted = "completed"
	FitFailed    = "failed"
)

// FitResult summarizes one model training run
type FitResult struct {
	Status       string             `json:"status"`
	ModelVersion string             `json:"model_version"`
	Samples      int                `json:"samples"`
	Epochs       int                `json:"epochs"`
	Metrics      map[string]float64 `json:"metrics"`
	Duration     time.Duration      `json:"duration"`
}

// SequencePredictor is the capability the imputation pipeline consumes.
// The model behind it is opaque; implementations may call a remote
// service, run natively, or be a test stub. Predict may return any real
// number; callers clamp for physically non-negative parameters.
type SequencePredictor interface {
	// Exists reports whether a trained model is available
	Exists(ctx context.Context, stationID, parameter string) (bool, error)

	// Fit trains (or retrains) the model for a station/parameter
	Fit(ctx context.Context, stationID, parameter string) (*FitResult, error)

	// Predict estimates the next value from an ordered context window
	Predict(ctx context.Context, modelVersion string, window []float64) (float64, error)

	// ModelVersion returns the current version, or "" when no model exists
	ModelVersion(ctx context.Context, stationID, parameter string) (string, error)
}
