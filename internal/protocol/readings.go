package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReadingMessage is the Kafka wire format for one hourly observation.
// The fetcher publishes these keyed by station ID; the dbwriter consumes
// them into PostgreSQL.
type ReadingMessage struct {
	StationID   string    `json:"station_id"`
	StationName string    `json:"station_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Parameter   string    `json:"parameter"`
	Value       float64   `json:"value"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Validate checks the fields required to key a TimePoint
func (m *ReadingMessage) Validate() error {
	if m.StationID == "" {
		return fmt.Errorf("station_id is required")
	}
	if m.Parameter == "" {
		return fmt.Errorf("parameter is required")
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// HourSlot returns the hourly slot this reading belongs to
func (m *ReadingMessage) HourSlot() time.Time {
	return m.Timestamp.Truncate(time.Hour)
}

// EncodeReadingMessage encodes a ReadingMessage to JSON
func EncodeReadingMessage(msg *ReadingMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeReadingMessage decodes JSON to a ReadingMessage and validates it
func DecodeReadingMessage(data []byte) (*ReadingMessage, error) {
	var msg ReadingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
