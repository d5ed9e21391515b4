package validation

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/smukkama/airquality-server/internal/database"
	"github.com/smukkama/airquality-server/internal/imputation"
	"github.com/smukkama/airquality-server/internal/predictor"
)

// ErrInsufficientData means the station has too few known points to
// benchmark; callers treat it as "not applicable" rather than a failure.
var ErrInsufficientData = &ValidationError{"not enough known points to validate"}

// ValidationError represents a validation harness error
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

// Store is the read-only snapshot the harness benchmarks against
type Store interface {
	PointsInRange(ctx context.Context, stationID, parameter string, start, end time.Time) ([]database.TimePoint, error)
}

// Metrics holds error metrics for one estimation method
type Metrics struct {
	RMSE float64
	MAE  float64
}

// Report is the outcome of one offline validation run
type Report struct {
	StationID                string
	Parameter                string
	ModelVersion             string
	MaskedCount              int
	EvaluatedCount           int
	Model                    Metrics
	Linear                   Metrics
	ForwardFill              Metrics
	ImprovementVsLinear      float64
	ImprovementVsForwardFill float64
	NegativePredictions      int
	PassedAcceptance         bool
}

// Harness benchmarks the predictor against the naive fallback estimators
// by masking known values. It never mutates stored data; masking happens
// on an in-memory copy that is discarded afterwards.
type Harness struct {
	store   Store
	pred    predictor.SequencePredictor
	windows *imputation.WindowBuilder
}

// NewHarness creates a validation harness with injected collaborators
func NewHarness(store Store, pred predictor.SequencePredictor, windows *imputation.WindowBuilder) *Harness {
	return &Harness{
		store:   store,
		pred:    pred,
		windows: windows,
	}
}

// Validate masks a seeded sample of known values and compares the
// predictor against linear interpolation and forward fill over the same
// mask. Requires at least twice the sequence length in known points.
// Acceptance: predictor RMSE strictly below linear interpolation RMSE and
// no negative predictions for a non-negative parameter.
func (h *Harness) Validate(ctx context.Context, stationID, parameter string, start, end time.Time, maskFraction float64, seed int64) (*Report, error) {
	if maskFraction <= 0 || maskFraction > 1 {
		return nil, fmt.Errorf("mask fraction must be in (0, 1], got %f", maskFraction)
	}

	modelVersion, err := h.pred.ModelVersion(ctx, stationID, parameter)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model version: %w", err)
	}
	if modelVersion == "" {
		return nil, imputation.ErrPredictorUnavailable
	}

	points, err := h.store.PointsInRange(ctx, stationID, parameter, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load series: %w", err)
	}

	var known []int
	for i, p := range points {
		if p.Value != nil {
			known = append(known, i)
		}
	}

	seqLen := h.windows.SequenceLength()
	if len(known) < 2*seqLen {
		return nil, ErrInsufficientData
	}

	// Only indices with a full preceding context are candidates
	candidates := known[seqLen:]
	maskCount := int(maskFraction * float64(len(candidates)))
	if maskCount < 1 {
		maskCount = 1
	}

	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(candidates))[:maskCount]
	sort.Ints(perm)

	report := &Report{
		StationID:    stationID,
		Parameter:    parameter,
		ModelVersion: modelVersion,
		MaskedCount:  maskCount,
	}

	var model, linear, ffill accumulator

	for _, ci := range perm {
		idx := candidates[ci]
		target := points[idx].Timestamp
		truth := *points[idx].Value

		window, err := h.windows.Build(points[:idx], target)
		if err != nil {
			continue
		}

		predicted, err := h.pred.Predict(ctx, modelVersion, window.Values)
		if err != nil {
			fmt.Printf("Validation predict failed for %s/%s at %s: %v\n",
				stationID, parameter, target.Format(time.RFC3339), err)
			continue
		}

		// Baselines estimate from the other known points in the series
		masked := maskOne(points, idx)
		linearEst, linErr := imputation.LinearInterpolate(masked, target)
		fillEst, fillErr := imputation.ForwardFill(masked, target)
		if linErr != nil || fillErr != nil {
			continue
		}

		if predicted < 0 {
			report.NegativePredictions++
		}

		model.add(truth, predicted)
		linear.add(truth, linearEst)
		ffill.add(truth, fillEst)
		report.EvaluatedCount++
	}

	if report.EvaluatedCount == 0 {
		return nil, ErrInsufficientData
	}

	report.Model = model.metrics()
	report.Linear = linear.metrics()
	report.ForwardFill = ffill.metrics()
	report.ImprovementVsLinear = improvement(report.Linear.RMSE, report.Model.RMSE)
	report.ImprovementVsForwardFill = improvement(report.ForwardFill.RMSE, report.Model.RMSE)

	report.PassedAcceptance = report.Model.RMSE < report.Linear.RMSE
	if database.NonNegative(parameter) && report.NegativePredictions > 0 {
		report.PassedAcceptance = false
	}

	return report, nil
}

// maskOne copies the series with a single value hidden
func maskOne(points []database.TimePoint, idx int) []database.TimePoint {
	masked := make([]database.TimePoint, len(points))
	copy(masked, points)
	masked[idx].Value = nil
	return masked
}

func improvement(baseline, model float64) float64 {
	if baseline == 0 {
		return 0
	}
	return (baseline - model) / baseline * 100
}

type accumulator struct {
	sumSq  float64
	sumAbs float64
	n      int
}

func (a *accumulator) add(truth, estimate float64) {
	diff := estimate - truth
	a.sumSq += diff * diff
	a.sumAbs += math.Abs(diff)
	a.n++
}

func (a *accumulator) metrics() Metrics {
	if a.n == 0 {
		return Metrics{}
	}
	return Metrics{
		RMSE: math.Sqrt(a.sumSq / float64(a.n)),
		MAE:  a.sumAbs / float64(a.n),
	}
}
