package imputation

import (
	"context"
	"fmt"
	"time"

	"github.com/smukkama/airquality-server/internal/database"
	"github.com/smukkama/airquality-server/internal/gaps"
	"github.com/smukkama/airquality-server/internal/predictor"
)

// Store is the persistence boundary the orchestrator writes through.
// *database.DB satisfies it; tests substitute an in-memory fake.
type Store interface {
	PointsInRange(ctx context.Context, stationID, parameter string, start, end time.Time) ([]database.TimePoint, error)
	ValidPointsBefore(ctx context.Context, stationID, parameter string, before time.Time, limit int) ([]database.TimePoint, error)
	ApplyImputations(ctx context.Context, entries []database.ImputationLogEntry) error
	RollbackImputed(ctx context.Context, stationID, parameter string, start, end time.Time) (int64, error)
}

// Summary reports the outcome of one station gap-fill pass. A partial
// run returns counts rather than failing outright.
type Summary struct {
	Imputed    int
	Skipped    int
	Failed     int
	MethodUsed Method
}

// Orchestrator drives gap detection, the imputation policy, and the
// transactional write of values plus provenance log entries.
type Orchestrator struct {
	store     Store
	predictor predictor.SequencePredictor
	policy    *Policy
	windows   *WindowBuilder
	detector  *gaps.Detector
}

// NewOrchestrator creates an orchestrator with injected collaborators
func NewOrchestrator(
	store Store,
	pred predictor.SequencePredictor,
	policy *Policy,
	windows *WindowBuilder,
	detector *gaps.Detector,
) *Orchestrator {
	return &Orchestrator{
		store:     store,
		predictor: pred,
		policy:    policy,
		windows:   windows,
		detector:  detector,
	}
}

// ImputeStationGaps fills every imputable gap for one station/parameter
// over [start, end]. Per-hour failures are counted and never abort the
// batch; only persistence failures do. All successful estimates are
// written in one batched transaction at the end of the pass.
func (o *Orchestrator) ImputeStationGaps(ctx context.Context, stationID, parameter string, start, end time.Time, method Method) (*Summary, error) {
	modelVersion, err := o.ensureModel(ctx, stationID, parameter, method)
	if err != nil {
		return nil, err
	}
	predictorAvailable := modelVersion != ""

	points, err := o.store.PointsInRange(ctx, stationID, parameter, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load series: %w", err)
	}

	summary := &Summary{}
	var entries []database.ImputationLogEntry

	for _, gap := range o.detector.Detect(points) {
		// Cancellation is honored between gaps, never mid-gap
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		decision := o.resolve(gap, method, predictorAvailable)
		if decision.Skip {
			summary.Skipped += gap.DurationHours
			continue
		}

		for ts := gap.Start; !ts.After(gap.End); ts = ts.Add(time.Hour) {
			entry, err := o.estimate(ctx, stationID, parameter, ts, points, decision.Method, modelVersion)
			if err != nil {
				fmt.Printf("Imputation failed for %s/%s at %s: %v\n",
					stationID, parameter, ts.Format(time.RFC3339), err)
				summary.Failed++
				continue
			}

			entries = append(entries, *entry)
			summary.Imputed++
			if summary.MethodUsed == "" {
				summary.MethodUsed = decision.Method
			}
		}
	}

	if err := o.store.ApplyImputations(ctx, entries); err != nil {
		return nil, fmt.Errorf("failed to persist imputations: %w", err)
	}

	return summary, nil
}

// Rollback reverts every imputed point in the range to missing and
// returns the number of points reverted. Log entries are retained; a
// range with nothing imputed yields 0 and mutates nothing.
func (o *Orchestrator) Rollback(ctx context.Context, stationID, parameter string, start, end time.Time) (int64, error) {
	return o.store.RollbackImputed(ctx, stationID, parameter, start, end)
}

// ensureModel resolves the model version to impute with. For auto and
// explicit predictor requests it attempts a just-in-time fit when no
// model exists. Only an explicit predictor demand turns an unavailable
// model into a hard failure.
func (o *Orchestrator) ensureModel(ctx context.Context, stationID, parameter string, method Method) (string, error) {
	if method == MethodLinear || method == MethodForwardFill {
		return "", nil
	}

	version, err := o.predictor.ModelVersion(ctx, stationID, parameter)
	if err != nil {
		fmt.Printf("Model version lookup failed for %s/%s: %v\n", stationID, parameter, err)
		version = ""
	}

	if version == "" {
		result, fitErr := o.predictor.Fit(ctx, stationID, parameter)
		if fitErr == nil && result.Status == predictor.FitCompleted {
			version = result.ModelVersion
		} else if fitErr != nil {
			fmt.Printf("Just-in-time fit failed for %s/%s: %v\n", stationID, parameter, fitErr)
		}
	}

	if version == "" && method == MethodPredictor {
		return "", ErrModelRequired
	}

	return version, nil
}

// resolve maps the caller's method request onto a per-gap decision.
// Long gaps are never imputed regardless of the requested method.
func (o *Orchestrator) resolve(gap gaps.Gap, method Method, predictorAvailable bool) Decision {
	if method == MethodAuto {
		return o.policy.Decide(gap, predictorAvailable)
	}

	base := o.policy.Decide(gap, predictorAvailable)
	if base.Skip && gap.Classification == gaps.ClassLong {
		return base
	}

	return Decision{Method: method}
}

// estimate produces the value and log entry for one missing hour
func (o *Orchestrator) estimate(ctx context.Context, stationID, parameter string, ts time.Time, points []database.TimePoint, method Method, modelVersion string) (*database.ImputationLogEntry, error) {
	entry := &database.ImputationLogEntry{
		StationID: stationID,
		Timestamp: ts,
		Parameter: parameter,
		Method:    string(method),
	}

	var value float64

	switch method {
	case MethodPredictor:
		history, err := o.store.ValidPointsBefore(ctx, stationID, parameter, ts, o.windows.SequenceLength())
		if err != nil {
			return nil, fmt.Errorf("failed to load context: %w", err)
		}

		window, err := o.windows.Build(history, ts)
		if err != nil {
			return nil, err
		}

		value, err = o.predictor.Predict(ctx, modelVersion, window.Values)
		if err != nil {
			return nil, fmt.Errorf("prediction failed: %w", err)
		}

		entry.ContextStart = &window.Start
		entry.ContextEnd = &window.End
		entry.ModelVersion = &modelVersion

	case MethodLinear:
		var err error
		value, err = LinearInterpolate(points, ts)
		if err != nil {
			return nil, err
		}

	case MethodForwardFill:
		var err error
		value, err = ForwardFill(points, ts)
		if err != nil {
			return nil, err
		}

	default:
		return nil, ErrUnknownMethod
	}

	// Pollutant concentrations cannot be negative
	if value < 0 && database.NonNegative(parameter) {
		value = 0
	}

	entry.ImputedValue = value
	return entry, nil
}
