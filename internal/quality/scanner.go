package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smukkama/airquality-server/internal/database"
)

// Snapshot is the cached completeness summary for one station and
// parameter over the trailing scan window.
type Snapshot struct {
	StationID    string    `json:"station_id"`
	Parameter    string    `json:"parameter"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	TotalHours   int       `json:"total_hours"`
	Observed     int       `json:"observed"`
	Imputed      int       `json:"imputed"`
	Missing      int       `json:"missing"`
	Completeness float64   `json:"completeness"`
	ScannedAt    time.Time `json:"scanned_at"`
}

// SnapshotStore caches quality snapshots in Redis so status queries do
// not hit PostgreSQL
type SnapshotStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewSnapshotStore creates a snapshot store. Snapshots expire after ttl
// so a stalled scanner surfaces as missing data rather than stale data.
func NewSnapshotStore(redisClient *redis.Client, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{redis: redisClient, ttl: ttl}
}

func snapshotKey(stationID, parameter string) string {
	return fmt.Sprintf("quality_snapshot:%s:%s", stationID, parameter)
}

// Set saves a snapshot
func (s *SnapshotStore) Set(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := s.redis.Set(ctx, snapshotKey(snap.StationID, snap.Parameter), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot in Redis: %w", err)
	}
	return nil
}

// Get retrieves the snapshot for a station and parameter, or nil when
// no scan has run recently
func (s *SnapshotStore) Get(ctx context.Context, stationID, parameter string) (*Snapshot, error) {
	data, err := s.redis.Get(ctx, snapshotKey(stationID, parameter)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot from Redis: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// StationSnapshots returns all cached snapshots for one station
func (s *SnapshotStore) StationSnapshots(ctx context.Context, stationID string) ([]*Snapshot, error) {
	keys, err := s.redis.Keys(ctx, snapshotKey(stationID, "*")).Result()
	if err != nil {
		return nil, err
	}

	snapshots := make([]*Snapshot, 0, len(keys))
	for _, key := range keys {
		data, err := s.redis.Get(ctx, key).Result()
		if err != nil {
			continue
		}

		var snap Snapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			continue
		}
		snapshots = append(snapshots, &snap)
	}

	return snapshots, nil
}

// CompletenessSource is the database-facing side of the scanner
type CompletenessSource interface {
	ListActiveStations(ctx context.Context) ([]*database.Station, error)
	Completeness(ctx context.Context, stationID, parameter string, start, end time.Time) (*database.CompletenessStats, error)
}

// SnapshotSink receives the snapshots a scan produces
type SnapshotSink interface {
	Set(ctx context.Context, snap *Snapshot) error
}

// Scanner computes per-station completeness over a trailing window and
// caches the results
type Scanner struct {
	db          CompletenessSource
	snapshots   SnapshotSink
	windowHours int
}

// NewScanner creates a scanner covering the trailing windowHours
func NewScanner(db CompletenessSource, snapshots SnapshotSink, windowHours int) *Scanner {
	return &Scanner{
		db:          db,
		snapshots:   snapshots,
		windowHours: windowHours,
	}
}

// ScanStation refreshes the snapshots for every parameter of one station.
// Returns the number of snapshots written.
func (s *Scanner) ScanStation(ctx context.Context, stationID string) (int, error) {
	end := time.Now().UTC().Truncate(time.Hour)
	start := end.Add(-time.Duration(s.windowHours) * time.Hour)

	written := 0
	for _, parameter := range database.Parameters {
		stats, err := s.db.Completeness(ctx, stationID, parameter, start, end)
		if err != nil {
			return written, fmt.Errorf("completeness query for %s/%s failed: %w", stationID, parameter, err)
		}

		snap := &Snapshot{
			StationID:   stationID,
			Parameter:   parameter,
			WindowStart: start,
			WindowEnd:   end,
			TotalHours:  stats.TotalHours,
			Observed:    stats.Observed,
			Imputed:     stats.Imputed,
			Missing:     stats.Missing,
			ScannedAt:   time.Now().UTC(),
		}
		if stats.TotalHours > 0 {
			snap.Completeness = float64(stats.Observed+stats.Imputed) / float64(stats.TotalHours)
		}

		if err := s.snapshots.Set(ctx, snap); err != nil {
			return written, err
		}
		written++
	}

	return written, nil
}

// ScanAll refreshes snapshots for every active station. Per-station
// failures are logged and do not stop the scan.
func (s *Scanner) ScanAll(ctx context.Context) (int, error) {
	stations, err := s.db.ListActiveStations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list stations: %w", err)
	}

	total := 0
	for _, station := range stations {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := s.ScanStation(ctx, station.StationID)
		total += n
		if err != nil {
			fmt.Printf("Quality scan for station %s failed: %v\n", station.StationID, err)
		}
	}

	return total, nil
}
