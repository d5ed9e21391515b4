package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smukkama/airquality-server/internal/protocol"
)

type capturePublisher struct {
	keys     []string
	payloads [][]byte
	err      error
}

func (p *capturePublisher) Publish(ctx context.Context, key string, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.payloads = append(p.payloads, value)
	return nil
}

func TestFetcher_PublishesReadings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/stations/STN-7/readings" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("from") == "" || r.URL.Query().Get("to") == "" {
			t.Error("Missing from/to query parameters")
		}
		w.Write([]byte(`{
			"station_id": "STN-7",
			"station_name": "Centro",
			"readings": [
				{"timestamp": "2026-03-01T14:00:00Z", "parameter": "pm25", "value": 31.2},
				{"timestamp": "2026-03-01T14:00:00Z", "parameter": "o3", "value": 18.0}
			]
		}`))
	}))
	defer server.Close()

	pub := &capturePublisher{}
	f := NewFetcher(server.URL, time.Second, pub, 3, time.Millisecond)

	count, err := f.FetchStation(context.Background(), "STN-7",
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("FetchStation failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 readings published, got %d", count)
	}

	for _, key := range pub.keys {
		if key != "STN-7" {
			t.Errorf("Messages should be keyed by station ID, got %q", key)
		}
	}

	msg, err := protocol.DecodeReadingMessage(pub.payloads[0])
	if err != nil {
		t.Fatalf("Published payload is not a valid reading: %v", err)
	}
	if msg.Parameter != "pm25" || msg.Value != 31.2 || msg.StationName != "Centro" {
		t.Errorf("Wrong reading content: %+v", msg)
	}
	if msg.FetchedAt.IsZero() {
		t.Error("FetchedAt not set")
	}
}

func TestFetcher_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"station_id": "STN-7", "readings": []}`))
	}))
	defer server.Close()

	f := NewFetcher(server.URL, time.Second, &capturePublisher{}, 3, time.Millisecond)

	if _, err := f.FetchStation(context.Background(), "STN-7", time.Now().Add(-time.Hour), time.Now()); err != nil {
		t.Fatalf("Expected success on third attempt, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestFetcher_ExhaustsRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := NewFetcher(server.URL, time.Second, &capturePublisher{}, 3, time.Millisecond)

	if _, err := f.FetchStation(context.Background(), "STN-7", time.Now().Add(-time.Hour), time.Now()); err == nil {
		t.Fatal("Expected error after retries exhausted")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestFetcher_CancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := NewFetcher(server.URL, time.Second, &capturePublisher{}, 3, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := f.FetchStation(ctx, "STN-7", time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("Expected cancellation error")
	}
	if time.Since(start) > time.Second {
		t.Error("Cancellation did not interrupt backoff wait")
	}
}
