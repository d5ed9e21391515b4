package database

import (
	"time"
)

// Station represents an air quality monitoring station
type Station struct {
	StationID string
	Name      string
	Lat       *float64
	Lon       *float64
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TimePoint represents one hourly measurement slot for a station and
// parameter. Value is nil while the hour is missing; Imputed marks values
// produced by the imputation pipeline rather than ingestion.
type TimePoint struct {
	StationID    string
	Timestamp    time.Time
	Parameter    string
	Value        *float64
	Imputed      bool
	ModelVersion *string
	UpdatedAt    time.Time
}

// ImputationLogEntry is the append-only provenance record for one
// successful imputation. Rollback nulls the TimePoint but never touches
// these rows.
type ImputationLogEntry struct {
	ID            int64      `json:"id"`
	StationID     string     `json:"station_id"`
	Timestamp     time.Time  `json:"ts"`
	Parameter     string     `json:"parameter"`
	ImputedValue  float64    `json:"imputed_value"`
	OriginalValue *float64   `json:"original_value,omitempty"`
	ContextStart  *time.Time `json:"context_start,omitempty"`
	ContextEnd    *time.Time `json:"context_end,omitempty"`
	ModelVersion  *string    `json:"model_version,omitempty"`
	Method        string     `json:"method"`
	Confidence    *float64   `json:"confidence,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Imputation methods recorded in the log
const (
	MethodLSTM        = "lstm"
	MethodLinear      = "linear"
	MethodForwardFill = "forward_fill"
)

// Supported measurement parameters
const (
	ParamPM25        = "pm25"
	ParamPM10        = "pm10"
	ParamNO2         = "no2"
	ParamO3          = "o3"
	ParamSO2         = "so2"
	ParamCO          = "co"
	ParamTemperature = "temperature"
	ParamHumidity    = "humidity"
	ParamWindSpeed   = "wind_speed"
)

// Parameters lists every parameter tracked per station.
var Parameters = []string{
	ParamPM25, ParamPM10, ParamNO2, ParamO3, ParamSO2, ParamCO,
	ParamTemperature, ParamHumidity, ParamWindSpeed,
}

// NonNegative reports whether a parameter is physically constrained to
// values >= 0. Temperature is the only parameter that may go below zero.
func NonNegative(parameter string) bool {
	return parameter != ParamTemperature
}

// CompletenessStats summarizes data coverage for one station/parameter
// over a scanned window.
type CompletenessStats struct {
	StationID  string
	Parameter  string
	TotalHours int
	Observed   int
	Imputed    int
	Missing    int
}
