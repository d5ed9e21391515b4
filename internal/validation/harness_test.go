package validation

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/smukkama/airquality-server/internal/database"
	"github.com/smukkama/airquality-server/internal/imputation"
	"github.com/smukkama/airquality-server/internal/predictor"
)

var valStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type sliceStore struct {
	points []database.TimePoint
}

func (s *sliceStore) PointsInRange(ctx context.Context, stationID, parameter string, start, end time.Time) ([]database.TimePoint, error) {
	return s.points, nil
}

// fnPredictor scripts Predict with a function
type fnPredictor struct {
	version string
	fn      func(window []float64) (float64, error)
}

func (p *fnPredictor) Exists(ctx context.Context, stationID, parameter string) (bool, error) {
	return p.version != "", nil
}

func (p *fnPredictor) ModelVersion(ctx context.Context, stationID, parameter string) (string, error) {
	return p.version, nil
}

func (p *fnPredictor) Fit(ctx context.Context, stationID, parameter string) (*predictor.FitResult, error) {
	return &predictor.FitResult{Status: predictor.FitCompleted, ModelVersion: p.version}, nil
}

func (p *fnPredictor) Predict(ctx context.Context, modelVersion string, window []float64) (float64, error) {
	return p.fn(window)
}

// quadraticSeries builds a fully known series v_i = i^2. The curve is
// convex, so both naive baselines carry systematic error on it.
func quadraticSeries(hours int) []database.TimePoint {
	points := make([]database.TimePoint, hours)
	for i := 0; i < hours; i++ {
		v := float64(i * i)
		points[i] = database.TimePoint{
			StationID: "STN-1",
			Parameter: database.ParamPM25,
			Timestamp: valStart.Add(time.Duration(i) * time.Hour),
			Value:     &v,
		}
	}
	return points
}

// oracle recovers the series index from the last window value and
// returns the exact next value, simulating a perfect model
func oracle(window []float64) (float64, error) {
	last := window[len(window)-1]
	i := math.Round(math.Sqrt(last))
	return (i + 1) * (i + 1), nil
}

func newTestHarness(store Store, pred predictor.SequencePredictor) *Harness {
	return NewHarness(store, pred, imputation.NewWindowBuilder(4, 24))
}

func TestValidate_AcceptancePasses(t *testing.T) {
	store := &sliceStore{points: quadraticSeries(60)}
	pred := &fnPredictor{version: "v1", fn: oracle}
	h := newTestHarness(store, pred)

	report, err := h.Validate(context.Background(), "STN-1", database.ParamPM25,
		valStart, valStart.Add(59*time.Hour), 0.1, 42)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if report.EvaluatedCount == 0 {
		t.Fatal("No masked points evaluated")
	}
	if report.Model.RMSE != 0 {
		t.Errorf("Oracle model should have RMSE 0, got %f", report.Model.RMSE)
	}
	if report.Linear.RMSE <= 0 {
		t.Errorf("Linear baseline should carry error on a convex series, got %f", report.Linear.RMSE)
	}
	if !report.PassedAcceptance {
		t.Error("Expected acceptance criteria to pass")
	}
	if report.ImprovementVsLinear != 100 {
		t.Errorf("Expected 100%% improvement vs linear, got %f", report.ImprovementVsLinear)
	}
	if report.ModelVersion != "v1" {
		t.Errorf("Expected model version v1, got %s", report.ModelVersion)
	}
}

func TestValidate_NegativePredictionsFailAcceptance(t *testing.T) {
	store := &sliceStore{points: quadraticSeries(60)}
	pred := &fnPredictor{version: "v1", fn: func(window []float64) (float64, error) {
		return -1, nil
	}}
	h := newTestHarness(store, pred)

	report, err := h.Validate(context.Background(), "STN-1", database.ParamPM25,
		valStart, valStart.Add(59*time.Hour), 0.1, 42)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if report.NegativePredictions == 0 {
		t.Error("Expected negative predictions to be counted")
	}
	if report.PassedAcceptance {
		t.Error("Negative pollutant predictions must fail acceptance")
	}
}

func TestValidate_InsufficientData(t *testing.T) {
	store := &sliceStore{points: quadraticSeries(6)}
	pred := &fnPredictor{version: "v1", fn: oracle}
	h := newTestHarness(store, pred)

	_, err := h.Validate(context.Background(), "STN-1", database.ParamPM25,
		valStart, valStart.Add(5*time.Hour), 0.1, 42)
	if err != ErrInsufficientData {
		t.Errorf("Expected ErrInsufficientData, got %v", err)
	}
}

func TestValidate_NoModel(t *testing.T) {
	store := &sliceStore{points: quadraticSeries(60)}
	pred := &fnPredictor{version: "", fn: oracle}
	h := newTestHarness(store, pred)

	_, err := h.Validate(context.Background(), "STN-1", database.ParamPM25,
		valStart, valStart.Add(59*time.Hour), 0.1, 42)
	if err != imputation.ErrPredictorUnavailable {
		t.Errorf("Expected ErrPredictorUnavailable, got %v", err)
	}
}

func TestValidate_SeededMaskIsDeterministic(t *testing.T) {
	store := &sliceStore{points: quadraticSeries(60)}
	pred := &fnPredictor{version: "v1", fn: oracle}
	h := newTestHarness(store, pred)

	first, err := h.Validate(context.Background(), "STN-1", database.ParamPM25,
		valStart, valStart.Add(59*time.Hour), 0.2, 7)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	second, err := h.Validate(context.Background(), "STN-1", database.ParamPM25,
		valStart, valStart.Add(59*time.Hour), 0.2, 7)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if first.MaskedCount != second.MaskedCount ||
		first.Linear.RMSE != second.Linear.RMSE ||
		first.ForwardFill.MAE != second.ForwardFill.MAE {
		t.Errorf("Same seed produced different reports: %+v vs %+v", first, second)
	}
}

func TestValidate_DoesNotMutateSeries(t *testing.T) {
	points := quadraticSeries(60)
	store := &sliceStore{points: points}
	pred := &fnPredictor{version: "v1", fn: oracle}
	h := newTestHarness(store, pred)

	if _, err := h.Validate(context.Background(), "STN-1", database.ParamPM25,
		valStart, valStart.Add(59*time.Hour), 0.1, 42); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	for i, p := range points {
		if p.Value == nil || *p.Value != float64(i*i) {
			t.Fatalf("Series mutated at index %d", i)
		}
	}
}
