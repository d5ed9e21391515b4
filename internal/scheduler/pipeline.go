package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smukkama/airquality-server/internal/database"
	"github.com/smukkama/airquality-server/internal/imputation"
)

// StationSource is the database-facing side of the pipeline
type StationSource interface {
	ListActiveStations(ctx context.Context) ([]*database.Station, error)
	EnsureHourlyIndex(ctx context.Context, stationID string, start, end time.Time) error
}

// ReadingFetcher pulls upstream readings for one station
type ReadingFetcher interface {
	FetchStation(ctx context.Context, stationID string, from, to time.Time) (int, error)
}

// Imputer fills the detected gaps for one station and parameter
type Imputer interface {
	ImputeStationGaps(ctx context.Context, stationID, parameter string, start, end time.Time, method imputation.Method) (*imputation.Summary, error)
}

// Lease serializes station work across pipeline instances
type Lease interface {
	TryAcquire(ctx context.Context, stationID string) (bool, error)
	Release(ctx context.Context, stationID string) error
}

// Pipeline is the hourly ingestion and imputation pass. Stations are
// processed by a bounded worker pool; each station is fetched, its
// hourly index extended over the lookback window, and its gaps imputed
// parameter by parameter. A station that fails to fetch still gets its
// gaps imputed from the data already on hand.
type Pipeline struct {
	db             StationSource
	fetcher        ReadingFetcher
	imputer        Imputer
	guard          Lease
	workers        int
	lookbackHours  int
	stationTimeout time.Duration
}

// NewPipeline creates a pipeline with the given worker count and
// trailing lookback window
func NewPipeline(db StationSource, fetcher ReadingFetcher, imputer Imputer, guard Lease,
	workers, lookbackHours int, stationTimeout time.Duration) *Pipeline {
	if workers <= 0 {
		workers = 5
	}
	return &Pipeline{
		db:             db,
		fetcher:        fetcher,
		imputer:        imputer,
		guard:          guard,
		workers:        workers,
		lookbackHours:  lookbackHours,
		stationTimeout: stationTimeout,
	}
}

// Run executes one pipeline pass over all active stations
func (p *Pipeline) Run(ctx context.Context) (JobResult, error) {
	end := time.Now().UTC().Truncate(time.Hour)
	start := end.Add(-time.Duration(p.lookbackHours) * time.Hour)

	stations, err := p.db.ListActiveStations(ctx)
	if err != nil {
		return JobResult{}, fmt.Errorf("failed to list stations: %w", err)
	}
	fmt.Printf("Pipeline pass over %d stations (%s to %s)\n",
		len(stations), start.Format("2006-01-02 15:04"), end.Format("2006-01-02 15:04"))

	jobQueue := make(chan *database.Station, len(stations))
	for _, station := range stations {
		jobQueue <- station
	}
	close(jobQueue)

	var mu sync.Mutex
	var total JobResult

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for station := range jobQueue {
				if ctx.Err() != nil {
					return
				}
				records, gaps := p.processStation(ctx, workerID, station, start, end)
				mu.Lock()
				total.RecordsProcessed += records
				total.GapsFilled += gaps
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return total, err
	}
	return total, nil
}

// processStation runs one station through fetch and imputation. All
// failures are logged and absorbed so one bad station never takes down
// the pass.
func (p *Pipeline) processStation(ctx context.Context, workerID int, station *database.Station, start, end time.Time) (int, int) {
	ctx, cancel := context.WithTimeout(ctx, p.stationTimeout)
	defer cancel()

	acquired, err := p.guard.TryAcquire(ctx, station.StationID)
	if err != nil {
		fmt.Printf("Worker %d: lease check for station %s failed: %v\n", workerID, station.StationID, err)
		return 0, 0
	}
	if !acquired {
		fmt.Printf("Worker %d: station %s held by another worker, skipping\n", workerID, station.StationID)
		return 0, 0
	}
	defer func() {
		if err := p.guard.Release(context.Background(), station.StationID); err != nil {
			fmt.Printf("Worker %d: failed to release lease for station %s: %v\n", workerID, station.StationID, err)
		}
	}()

	records := 0
	if n, err := p.fetcher.FetchStation(ctx, station.StationID, start, end); err != nil {
		fmt.Printf("Worker %d: fetch for station %s failed: %v\n", workerID, station.StationID, err)
	} else {
		records = n
	}

	if err := p.db.EnsureHourlyIndex(ctx, station.StationID, start, end); err != nil {
		fmt.Printf("Worker %d: hourly index for station %s failed: %v\n", workerID, station.StationID, err)
		return records, 0
	}

	gapsFilled := 0
	for _, parameter := range database.Parameters {
		if ctx.Err() != nil {
			break
		}

		summary, err := p.imputer.ImputeStationGaps(ctx, station.StationID, parameter, start, end, imputation.MethodAuto)
		if err != nil {
			fmt.Printf("Worker %d: imputation for %s/%s failed: %v\n", workerID, station.StationID, parameter, err)
			continue
		}
		gapsFilled += summary.Imputed
	}

	return records, gapsFilled
}

// QualityScanner refreshes completeness snapshots
type QualityScanner interface {
	ScanAll(ctx context.Context) (int, error)
}

// QualityJob wraps a quality scan as a scheduled job body
func QualityJob(scanner QualityScanner) JobFunc {
	return func(ctx context.Context) (JobResult, error) {
		written, err := scanner.ScanAll(ctx)
		return JobResult{RecordsProcessed: written}, err
	}
}

// ModelTrainer retrains station models
type ModelTrainer interface {
	Fit(ctx context.Context, stationID, parameter string) error
}

// RefreshJob retrains every active station's models. Per-station
// failures are logged; the job fails only when no station can be listed.
func RefreshJob(db StationSource, trainer ModelTrainer) JobFunc {
	return func(ctx context.Context) (JobResult, error) {
		stations, err := db.ListActiveStations(ctx)
		if err != nil {
			return JobResult{}, fmt.Errorf("failed to list stations: %w", err)
		}

		refreshed := 0
		for _, station := range stations {
			for _, parameter := range database.Parameters {
				if err := ctx.Err(); err != nil {
					return JobResult{RecordsProcessed: refreshed}, err
				}

				if err := trainer.Fit(ctx, station.StationID, parameter); err != nil {
					fmt.Printf("Model refresh for %s/%s failed: %v\n", station.StationID, parameter, err)
					continue
				}
				refreshed++
			}
		}

		return JobResult{RecordsProcessed: refreshed}, nil
	}
}
