package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		fmt.Printf("Running migration: %s\n", filename)

		filePath := filepath.Join(migrationsDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	fmt.Println("All migrations completed successfully")
	return nil
}

// UpsertStation inserts or updates a station
func (db *DB) UpsertStation(ctx context.Context, station *Station) error {
	query := `
		INSERT INTO stations (station_id, name, lat, lon, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (station_id) DO UPDATE
		SET name = EXCLUDED.name,
		    lat = EXCLUDED.lat,
		    lon = EXCLUDED.lon,
		    active = EXCLUDED.active,
		    updated_at = CURRENT_TIMESTAMP
	`
	_, err := db.ExecContext(ctx, query, station.StationID, station.Name, station.Lat, station.Lon, station.Active)
	return err
}

// GetStation retrieves a station by ID
func (db *DB) GetStation(ctx context.Context, stationID string) (*Station, error) {
	query := `
		SELECT station_id, name, lat, lon, active, created_at, updated_at
		FROM stations
		WHERE station_id = $1
	`

	var s Station
	err := db.QueryRowContext(ctx, query, stationID).Scan(
		&s.StationID,
		&s.Name,
		&s.Lat,
		&s.Lon,
		&s.Active,
		&s.CreatedAt,
		&s.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &s, nil
}

// ListActiveStations retrieves all active stations ordered by ID
func (db *DB) ListActiveStations(ctx context.Context) ([]*Station, error) {
	query := `
		SELECT station_id, name, lat, lon, active, created_at, updated_at
		FROM stations
		WHERE active = true
		ORDER BY station_id
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []*Station
	for rows.Next() {
		var s Station
		if err := rows.Scan(
			&s.StationID,
			&s.Name,
			&s.Lat,
			&s.Lon,
			&s.Active,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		stations = append(stations, &s)
	}

	return stations, rows.Err()
}

// UpsertObservation writes an observed (non-imputed) reading. An observed
// value always wins over a previously imputed one for the same hour.
func (db *DB) UpsertObservation(ctx context.Context, stationID string, ts time.Time, parameter string, value float64) error {
	query := `
		INSERT INTO air_quality_points (station_id, ts, parameter, value, imputed, model_version)
		VALUES ($1, $2, $3, $4, false, NULL)
		ON CONFLICT (station_id, ts, parameter) DO UPDATE
		SET value = EXCLUDED.value,
		    imputed = false,
		    model_version = NULL,
		    updated_at = CURRENT_TIMESTAMP
	`
	_, err := db.ExecContext(ctx, query, stationID, ts, parameter, value)
	return err
}

// EnsureHourlyIndex materializes one row per hour per parameter over
// [start, end], leaving value NULL where no observation exists. Gap
// detection relies on every hourly slot being present as an explicit row.
func (db *DB) EnsureHourlyIndex(ctx context.Context, stationID string, start, end time.Time) error {
	query := `
		INSERT INTO air_quality_points (station_id, ts, parameter)
		SELECT $1, gs, p
		FROM generate_series($2::timestamptz, $3::timestamptz, '1 hour'::interval) AS gs,
		     unnest($4::text[]) AS p
		ON CONFLICT (station_id, ts, parameter) DO NOTHING
	`
	_, err := db.ExecContext(ctx, query,
		stationID,
		start.Truncate(time.Hour),
		end.Truncate(time.Hour),
		pq.Array(Parameters),
	)
	if err != nil {
		return fmt.Errorf("failed to materialize hourly index: %w", err)
	}
	return nil
}

// PointsInRange returns all hourly points for a station/parameter over
// [start, end], ordered by timestamp ascending.
func (db *DB) PointsInRange(ctx context.Context, stationID, parameter string, start, end time.Time) ([]TimePoint, error) {
	query := `
		SELECT station_id, ts, parameter, value, imputed, model_version, updated_at
		FROM air_quality_points
		WHERE station_id = $1 AND parameter = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts
	`

	rows, err := db.QueryContext(ctx, query, stationID, parameter, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []TimePoint
	for rows.Next() {
		var p TimePoint
		if err := rows.Scan(
			&p.StationID,
			&p.Timestamp,
			&p.Parameter,
			&p.Value,
			&p.Imputed,
			&p.ModelVersion,
			&p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		points = append(points, p)
	}

	return points, rows.Err()
}

// ValidPointsBefore returns up to limit non-null points strictly before
// the given timestamp, ordered by timestamp ascending.
func (db *DB) ValidPointsBefore(ctx context.Context, stationID, parameter string, before time.Time, limit int) ([]TimePoint, error) {
	query := `
		SELECT station_id, ts, parameter, value, imputed, model_version, updated_at
		FROM (
			SELECT station_id, ts, parameter, value, imputed, model_version, updated_at
			FROM air_quality_points
			WHERE station_id = $1 AND parameter = $2 AND ts < $3 AND value IS NOT NULL
			ORDER BY ts DESC
			LIMIT $4
		) recent
		ORDER BY ts
	`

	rows, err := db.QueryContext(ctx, query, stationID, parameter, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []TimePoint
	for rows.Next() {
		var p TimePoint
		if err := rows.Scan(
			&p.StationID,
			&p.Timestamp,
			&p.Parameter,
			&p.Value,
			&p.Imputed,
			&p.ModelVersion,
			&p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		points = append(points, p)
	}

	return points, rows.Err()
}

// ApplyImputations writes a batch of imputed values and their log entries
// in one transaction. Each hour's point update and log append commit
// together or not at all.
func (db *DB) ApplyImputations(ctx context.Context, entries []ImputationLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updatePoint := `
		UPDATE air_quality_points
		SET value = $1, imputed = true, model_version = $2, updated_at = CURRENT_TIMESTAMP
		WHERE station_id = $3 AND ts = $4 AND parameter = $5
		  AND (value IS NULL OR imputed = true)
	`
	insertLog := `
		INSERT INTO imputation_log (
			station_id, ts, parameter, imputed_value, original_value,
			context_start, context_end, model_version, method, confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	for _, e := range entries {
		result, err := tx.ExecContext(ctx, updatePoint,
			e.ImputedValue, e.ModelVersion, e.StationID, e.Timestamp, e.Parameter)
		if err != nil {
			return fmt.Errorf("failed to update point: %w", err)
		}

		affected, _ := result.RowsAffected()
		if affected == 0 {
			// An observed value landed for this hour since the gap scan.
			continue
		}

		if _, err := tx.ExecContext(ctx, insertLog,
			e.StationID, e.Timestamp, e.Parameter, e.ImputedValue, e.OriginalValue,
			e.ContextStart, e.ContextEnd, e.ModelVersion, e.Method, e.Confidence,
		); err != nil {
			return fmt.Errorf("failed to insert imputation log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit imputations: %w", err)
	}
	return nil
}

// RollbackImputed nulls every imputed value in the range and returns the
// number of points reverted. Log entries are kept for provenance.
func (db *DB) RollbackImputed(ctx context.Context, stationID, parameter string, start, end time.Time) (int64, error) {
	query := `
		UPDATE air_quality_points
		SET value = NULL, imputed = false, model_version = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE station_id = $1 AND parameter = $2 AND ts >= $3 AND ts <= $4
		  AND imputed = true
	`

	result, err := db.ExecContext(ctx, query, stationID, parameter, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to rollback imputed values: %w", err)
	}

	return result.RowsAffected()
}

// Completeness computes coverage counts for a station/parameter window
func (db *DB) Completeness(ctx context.Context, stationID, parameter string, start, end time.Time) (*CompletenessStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE value IS NOT NULL AND NOT imputed) AS observed,
			COUNT(*) FILTER (WHERE imputed) AS imputed,
			COUNT(*) FILTER (WHERE value IS NULL) AS missing
		FROM air_quality_points
		WHERE station_id = $1 AND parameter = $2 AND ts >= $3 AND ts <= $4
	`

	stats := &CompletenessStats{StationID: stationID, Parameter: parameter}
	err := db.QueryRowContext(ctx, query, stationID, parameter, start, end).Scan(
		&stats.TotalHours,
		&stats.Observed,
		&stats.Imputed,
		&stats.Missing,
	)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// ListImputationLog returns log entries for a station/parameter range,
// oldest first.
func (db *DB) ListImputationLog(ctx context.Context, stationID, parameter string, start, end time.Time) ([]ImputationLogEntry, error) {
	query := `
		SELECT id, station_id, ts, parameter, imputed_value, original_value,
		       context_start, context_end, model_version, method, confidence, created_at
		FROM imputation_log
		WHERE station_id = $1 AND parameter = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts, id
	`

	rows, err := db.QueryContext(ctx, query, stationID, parameter, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ImputationLogEntry
	for rows.Next() {
		var e ImputationLogEntry
		if err := rows.Scan(
			&e.ID,
			&e.StationID,
			&e.Timestamp,
			&e.Parameter,
			&e.ImputedValue,
			&e.OriginalValue,
			&e.ContextStart,
			&e.ContextEnd,
			&e.ModelVersion,
			&e.Method,
			&e.Confidence,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
