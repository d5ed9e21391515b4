package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/smukkama/airquality-server/internal/protocol"
)

// Publisher is the Kafka-facing side of the fetcher
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// upstreamReading mirrors one element of the upstream readings payload
type upstreamReading struct {
	Timestamp time.Time `json:"timestamp"`
	Parameter string    `json:"parameter"`
	Value     float64   `json:"value"`
}

type upstreamResponse struct {
	StationID   string            `json:"station_id"`
	StationName string            `json:"station_name"`
	Readings    []upstreamReading `json:"readings"`
}

// Fetcher pulls hourly readings from the upstream measurement network
// and publishes them to Kafka. Fetch failures are retried with
// exponential backoff; a station that stays unreachable is reported to
// the caller and must not block other stations.
type Fetcher struct {
	baseURL       string
	client        *http.Client
	producer      Publisher
	retryAttempts int
	retryBackoff  time.Duration
}

// NewFetcher creates a fetcher with a fixed per-request timeout
func NewFetcher(baseURL string, timeout time.Duration, producer Publisher, retryAttempts int, retryBackoff time.Duration) *Fetcher {
	return &Fetcher{
		baseURL:       baseURL,
		client:        &http.Client{Timeout: timeout},
		producer:      producer,
		retryAttempts: retryAttempts,
		retryBackoff:  retryBackoff,
	}
}

// FetchStation retrieves readings for one station over [from, to] and
// publishes them. Returns the number of readings published.
func (f *Fetcher) FetchStation(ctx context.Context, stationID string, from, to time.Time) (int, error) {
	resp, err := f.fetchWithRetry(ctx, stationID, from, to)
	if err != nil {
		return 0, err
	}

	fetchedAt := time.Now().UTC()
	published := 0
	for i := range resp.Readings {
		r := &resp.Readings[i]
		msg := &protocol.ReadingMessage{
			StationID:   stationID,
			StationName: resp.StationName,
			Timestamp:   r.Timestamp,
			Parameter:   r.Parameter,
			Value:       r.Value,
			FetchedAt:   fetchedAt,
		}
		data, err := protocol.EncodeReadingMessage(msg)
		if err != nil {
			return published, fmt.Errorf("failed to encode reading: %w", err)
		}
		if err := f.producer.Publish(ctx, stationID, data); err != nil {
			return published, fmt.Errorf("failed to publish reading: %w", err)
		}
		published++
	}

	return published, nil
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, stationID string, from, to time.Time) (*upstreamResponse, error) {
	var lastErr error
	backoff := f.retryBackoff

	for attempt := 1; attempt <= f.retryAttempts; attempt++ {
		resp, err := f.fetchOnce(ctx, stationID, from, to)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt < f.retryAttempts {
			fmt.Printf("Fetch for station %s failed (attempt %d/%d): %v, retrying in %s\n",
				stationID, attempt, f.retryAttempts, err, backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return nil, fmt.Errorf("upstream fetch for station %s failed after %d attempts: %w",
		stationID, f.retryAttempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, stationID string, from, to time.Time) (*upstreamResponse, error) {
	endpoint := fmt.Sprintf("%s/v1/stations/%s/readings?%s", f.baseURL, url.PathEscape(stationID),
		url.Values{
			"from": {from.Format(time.RFC3339)},
			"to":   {to.Format(time.RFC3339)},
		}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	httpResp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("upstream returned status %d: %s", httpResp.StatusCode, string(body))
	}

	var resp upstreamResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &resp, nil
}
