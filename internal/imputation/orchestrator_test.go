package imputation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smukkama/airquality-server/internal/database"
	"github.com/smukkama/airquality-server/internal/gaps"
	"github.com/smukkama/airquality-server/internal/predictor"
)

// fakeStore holds a single station/parameter series in memory
type fakeStore struct {
	points   []database.TimePoint
	log      []database.ImputationLogEntry
	applyErr error
}

func (s *fakeStore) PointsInRange(ctx context.Context, stationID, parameter string, start, end time.Time) ([]database.TimePoint, error) {
	var out []database.TimePoint
	for _, p := range s.points {
		if !p.Timestamp.Before(start) && !p.Timestamp.After(end) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) ValidPointsBefore(ctx context.Context, stationID, parameter string, before time.Time, limit int) ([]database.TimePoint, error) {
	var valid []database.TimePoint
	for _, p := range s.points {
		if p.Timestamp.Before(before) && p.Value != nil {
			valid = append(valid, p)
		}
	}
	if len(valid) > limit {
		valid = valid[len(valid)-limit:]
	}
	return valid, nil
}

func (s *fakeStore) ApplyImputations(ctx context.Context, entries []database.ImputationLogEntry) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	for _, e := range entries {
		for i := range s.points {
			if s.points[i].Timestamp.Equal(e.Timestamp) {
				if s.points[i].Value == nil || s.points[i].Imputed {
					v := e.ImputedValue
					s.points[i].Value = &v
					s.points[i].Imputed = true
					s.points[i].ModelVersion = e.ModelVersion
					s.log = append(s.log, e)
				}
				break
			}
		}
	}
	return nil
}

func (s *fakeStore) RollbackImputed(ctx context.Context, stationID, parameter string, start, end time.Time) (int64, error) {
	var count int64
	for i := range s.points {
		p := &s.points[i]
		if p.Imputed && !p.Timestamp.Before(start) && !p.Timestamp.After(end) {
			p.Value = nil
			p.Imputed = false
			p.ModelVersion = nil
			count++
		}
	}
	return count, nil
}

// fakePredictor is a scripted SequencePredictor
type fakePredictor struct {
	version      string
	fitResult    *predictor.FitResult
	fitErr       error
	predictValue float64
	predictErr   error
	fitCalls     int
	predictCalls int
}

func (p *fakePredictor) Exists(ctx context.Context, stationID, parameter string) (bool, error) {
	return p.version != "", nil
}

func (p *fakePredictor) ModelVersion(ctx context.Context, stationID, parameter string) (string, error) {
	return p.version, nil
}

func (p *fakePredictor) Fit(ctx context.Context, stationID, parameter string) (*predictor.FitResult, error) {
	p.fitCalls++
	if p.fitErr != nil {
		return nil, p.fitErr
	}
	return p.fitResult, nil
}

func (p *fakePredictor) Predict(ctx context.Context, modelVersion string, window []float64) (float64, error) {
	p.predictCalls++
	if p.predictErr != nil {
		return 0, p.predictErr
	}
	return p.predictValue, nil
}

var orchStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestOrchestrator(store Store, pred predictor.SequencePredictor, sequenceLength int) *Orchestrator {
	return NewOrchestrator(
		store,
		pred,
		NewPolicy(3, 24, 24),
		NewWindowBuilder(sequenceLength, 24),
		gaps.NewDetector(3, 24),
	)
}

func storeWithSeries(hours int, missing ...int) *fakeStore {
	missingSet := make(map[int]bool)
	for _, h := range missing {
		missingSet[h] = true
	}

	s := &fakeStore{}
	for i := 0; i < hours; i++ {
		p := database.TimePoint{
			StationID: "STN-1",
			Parameter: database.ParamPM25,
			Timestamp: orchStart.Add(time.Duration(i) * time.Hour),
		}
		if !missingSet[i] {
			v := 20.0 + float64(i)
			p.Value = &v
		}
		s.points = append(s.points, p)
	}
	return s
}

func TestImputeStationGaps_ShortGapWithPredictor(t *testing.T) {
	store := storeWithSeries(24, 10, 11, 12)
	pred := &fakePredictor{version: "v1", predictValue: 42.5}
	o := newTestOrchestrator(store, pred, 5)

	summary, err := o.ImputeStationGaps(context.Background(), "STN-1", database.ParamPM25,
		orchStart, orchStart.Add(23*time.Hour), MethodAuto)
	if err != nil {
		t.Fatalf("ImputeStationGaps failed: %v", err)
	}

	if summary.Imputed != 3 || summary.Skipped != 0 || summary.Failed != 0 {
		t.Errorf("Expected imputed=3 skipped=0 failed=0, got %+v", summary)
	}
	if summary.MethodUsed != MethodPredictor {
		t.Errorf("Expected predictor method, got %s", summary.MethodUsed)
	}

	if len(store.log) != 3 {
		t.Fatalf("Expected 3 log entries, got %d", len(store.log))
	}
	for _, e := range store.log {
		if e.ModelVersion == nil || *e.ModelVersion != "v1" {
			t.Errorf("Log entry missing model version: %+v", e)
		}
		if e.ContextStart == nil || e.ContextEnd == nil {
			t.Errorf("Log entry missing context window: %+v", e)
		}
		if e.Method != database.MethodLSTM {
			t.Errorf("Expected lstm method in log, got %s", e.Method)
		}
	}

	for i := 10; i <= 12; i++ {
		p := store.points[i]
		if p.Value == nil || !p.Imputed {
			t.Errorf("Hour %d not imputed: %+v", i, p)
		}
	}
}

func TestImputeStationGaps_LongGapFlaggedOnly(t *testing.T) {
	missing := make([]int, 31)
	for i := range missing {
		missing[i] = i
	}
	store := storeWithSeries(48, missing...)
	pred := &fakePredictor{version: "v1", predictValue: 30}
	o := newTestOrchestrator(store, pred, 5)

	summary, err := o.ImputeStationGaps(context.Background(), "STN-1", database.ParamPM25,
		orchStart, orchStart.Add(47*time.Hour), MethodAuto)
	if err != nil {
		t.Fatalf("ImputeStationGaps failed: %v", err)
	}

	if summary.Imputed != 0 || summary.Skipped != 31 {
		t.Errorf("Expected imputed=0 skipped=31, got %+v", summary)
	}
	if len(store.log) != 0 {
		t.Errorf("Expected no log entries, got %d", len(store.log))
	}
}

func TestImputeStationGaps_AutoFallbackToForwardFill(t *testing.T) {
	store := storeWithSeries(24, 5, 6)
	pred := &fakePredictor{version: "", fitErr: errors.New("training data unavailable")}
	o := newTestOrchestrator(store, pred, 5)

	summary, err := o.ImputeStationGaps(context.Background(), "STN-1", database.ParamPM25,
		orchStart, orchStart.Add(23*time.Hour), MethodAuto)
	if err != nil {
		t.Fatalf("ImputeStationGaps failed: %v", err)
	}

	if pred.fitCalls != 1 {
		t.Errorf("Expected one just-in-time fit attempt, got %d", pred.fitCalls)
	}
	if summary.MethodUsed != MethodForwardFill {
		t.Errorf("Expected forward fill, got %s", summary.MethodUsed)
	}
	if summary.Imputed != 2 || summary.Failed != 0 {
		t.Errorf("Expected imputed=2 failed=0, got %+v", summary)
	}

	// Forward fill carries the last reading before the gap (hour 4 = 24.0)
	for i := 5; i <= 6; i++ {
		if store.points[i].Value == nil || *store.points[i].Value != 24.0 {
			t.Errorf("Hour %d: expected 24.0, got %v", i, store.points[i].Value)
		}
	}
}

func TestImputeStationGaps_JustInTimeFit(t *testing.T) {
	store := storeWithSeries(24, 10)
	pred := &fakePredictor{
		version:      "",
		fitResult:    &predictor.FitResult{Status: predictor.FitCompleted, ModelVersion: "v2"},
		predictValue: 33,
	}
	o := newTestOrchestrator(store, pred, 5)

	summary, err := o.ImputeStationGaps(context.Background(), "STN-1", database.ParamPM25,
		orchStart, orchStart.Add(23*time.Hour), MethodAuto)
	if err != nil {
		t.Fatalf("ImputeStationGaps failed: %v", err)
	}

	if summary.MethodUsed != MethodPredictor {
		t.Errorf("Expected predictor after just-in-time fit, got %s", summary.MethodUsed)
	}
	if len(store.log) != 1 || *store.log[0].ModelVersion != "v2" {
		t.Errorf("Expected log entry with model v2, got %+v", store.log)
	}
}

func TestImputeStationGaps_ExplicitPredictorDemandFails(t *testing.T) {
	store := storeWithSeries(24, 5)
	pred := &fakePredictor{version: "", fitErr: errors.New("no data")}
	o := newTestOrchestrator(store, pred, 5)

	_, err := o.ImputeStationGaps(context.Background(), "STN-1", database.ParamPM25,
		orchStart, orchStart.Add(23*time.Hour), MethodPredictor)
	if err != ErrModelRequired {
		t.Errorf("Expected ErrModelRequired, got %v", err)
	}
}

func TestImputeStationGaps_NegativePredictionClamped(t *testing.T) {
	store := storeWithSeries(24, 10)
	pred := &fakePredictor{version: "v1", predictValue: -5.5}
	o := newTestOrchestrator(store, pred, 5)

	summary, err := o.ImputeStationGaps(context.Background(), "STN-1", database.ParamPM25,
		orchStart, orchStart.Add(23*time.Hour), MethodAuto)
	if err != nil {
		t.Fatalf("ImputeStationGaps failed: %v", err)
	}

	if summary.Imputed != 1 {
		t.Fatalf("Expected 1 imputed, got %d", summary.Imputed)
	}
	if *store.points[10].Value != 0 {
		t.Errorf("Expected clamped value 0, got %f", *store.points[10].Value)
	}
}

func TestImputeStationGaps_NegativeTemperatureAllowed(t *testing.T) {
	store := &fakeStore{}
	for i := 0; i < 24; i++ {
		p := database.TimePoint{
			StationID: "STN-1",
			Parameter: database.ParamTemperature,
			Timestamp: orchStart.Add(time.Duration(i) * time.Hour),
		}
		if i != 10 {
			v := -2.0
			p.Value = &v
		}
		store.points = append(store.points, p)
	}

	pred := &fakePredictor{version: "v1", predictValue: -3.5}
	o := newTestOrchestrator(store, pred, 5)

	_, err := o.ImputeStationGaps(context.Background(), "STN-1", database.ParamTemperature,
		orchStart, orchStart.Add(23*time.Hour), MethodAuto)
	if err != nil {
		t.Fatalf("ImputeStationGaps failed: %v", err)
	}

	if *store.points[10].Value != -3.5 {
		t.Errorf("Temperature should not be clamped, got %f", *store.points[10].Value)
	}
}

func TestImputeStationGaps_InsufficientContextCountedAsFailed(t *testing.T) {
	// Only 5 valid hours before the gap but the window needs 20
	store := storeWithSeries(12, 5, 6, 7)
	pred := &fakePredictor{version: "v1", predictValue: 25}
	o := newTestOrchestrator(store, pred, 20)

	summary, err := o.ImputeStationGaps(context.Background(), "STN-1", database.ParamPM25,
		orchStart, orchStart.Add(11*time.Hour), MethodAuto)
	if err != nil {
		t.Fatalf("ImputeStationGaps failed: %v", err)
	}

	if summary.Failed != 3 || summary.Imputed != 0 {
		t.Errorf("Expected failed=3 imputed=0, got %+v", summary)
	}
}

func TestImputeStationGaps_PredictorErrorNeverFatal(t *testing.T) {
	store := storeWithSeries(24, 5, 10)
	pred := &fakePredictor{version: "v1", predictErr: errors.New("inference timeout")}
	o := newTestOrchestrator(store, pred, 3)

	summary, err := o.ImputeStationGaps(context.Background(), "STN-1", database.ParamPM25,
		orchStart, orchStart.Add(23*time.Hour), MethodAuto)
	if err != nil {
		t.Fatalf("Batch should survive per-hour predictor errors: %v", err)
	}

	if summary.Failed != 2 {
		t.Errorf("Expected failed=2, got %+v", summary)
	}
}

func TestImputeStationGaps_PersistenceFailureAborts(t *testing.T) {
	store := storeWithSeries(24, 5)
	store.applyErr = errors.New("connection reset")
	pred := &fakePredictor{version: "v1", predictValue: 25}
	o := newTestOrchestrator(store, pred, 3)

	_, err := o.ImputeStationGaps(context.Background(), "STN-1", database.ParamPM25,
		orchStart, orchStart.Add(23*time.Hour), MethodAuto)
	if err == nil {
		t.Fatal("Expected persistence failure to propagate")
	}
}

func TestRollback_IdempotentAndPreservesLog(t *testing.T) {
	store := storeWithSeries(24, 10, 11, 12)
	pred := &fakePredictor{version: "v1", predictValue: 42.5}
	o := newTestOrchestrator(store, pred, 5)

	_, err := o.ImputeStationGaps(context.Background(), "STN-1", database.ParamPM25,
		orchStart, orchStart.Add(23*time.Hour), MethodAuto)
	if err != nil {
		t.Fatalf("ImputeStationGaps failed: %v", err)
	}

	count, err := o.Rollback(context.Background(), "STN-1", database.ParamPM25,
		orchStart, orchStart.Add(23*time.Hour))
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 points rolled back, got %d", count)
	}

	for i := 10; i <= 12; i++ {
		p := store.points[i]
		if p.Value != nil || p.Imputed || p.ModelVersion != nil {
			t.Errorf("Hour %d not reverted: %+v", i, p)
		}
	}

	// Provenance survives rollback
	if len(store.log) != 3 {
		t.Errorf("Expected log entries preserved, got %d", len(store.log))
	}

	// Second rollback finds nothing
	count, err = o.Rollback(context.Background(), "STN-1", database.ParamPM25,
		orchStart, orchStart.Add(23*time.Hour))
	if err != nil {
		t.Fatalf("Second rollback failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 on second rollback, got %d", count)
	}
}

func TestImputeStationGaps_AuditCompleteness(t *testing.T) {
	store := storeWithSeries(24, 3, 4, 15)
	pred := &fakePredictor{version: "v1", predictValue: 27}
	o := newTestOrchestrator(store, pred, 2)

	_, err := o.ImputeStationGaps(context.Background(), "STN-1", database.ParamPM25,
		orchStart, orchStart.Add(23*time.Hour), MethodAuto)
	if err != nil {
		t.Fatalf("ImputeStationGaps failed: %v", err)
	}

	// Every imputed point has exactly one log entry for its timestamp
	logByTS := make(map[time.Time]int)
	for _, e := range store.log {
		logByTS[e.Timestamp]++
	}
	for _, p := range store.points {
		if p.Imputed {
			if logByTS[p.Timestamp] != 1 {
				t.Errorf("Imputed point at %v has %d log entries", p.Timestamp, logByTS[p.Timestamp])
			}
		} else if logByTS[p.Timestamp] != 0 {
			t.Errorf("Non-imputed point at %v has log entries", p.Timestamp)
		}
	}
}

func TestImputeStationGaps_CancelledBetweenGaps(t *testing.T) {
	store := storeWithSeries(24, 5, 10)
	pred := &fakePredictor{version: "v1", predictValue: 25}
	o := newTestOrchestrator(store, pred, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.ImputeStationGaps(ctx, "STN-1", database.ParamPM25,
		orchStart, orchStart.Add(23*time.Hour), MethodAuto)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
