package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/smukkama/airquality-server/internal/database"
	"github.com/smukkama/airquality-server/internal/quality"
	"github.com/smukkama/airquality-server/internal/scheduler"
)

// JobControl is the scheduler-facing side of the admin API
type JobControl interface {
	Trigger(name string) (string, error)
	Execution(jobID string) (scheduler.JobExecution, bool)
	RecentExecutions() []scheduler.JobExecution
}

// QualityReader serves cached completeness snapshots
type QualityReader interface {
	StationSnapshots(ctx context.Context, stationID string) ([]*quality.Snapshot, error)
}

// LogReader serves the imputation audit trail
type LogReader interface {
	ListImputationLog(ctx context.Context, stationID, parameter string, start, end time.Time) ([]database.ImputationLogEntry, error)
}

// AdminServer exposes job control and status over HTTP for operators
// and the imputectl CLI
type AdminServer struct {
	httpServer *http.Server
	jobs       JobControl
	snapshots  QualityReader
	logs       LogReader
}

// NewAdminServer creates an admin server on the given listen address
func NewAdminServer(addr string, jobs JobControl, snapshots QualityReader, logs LogReader) *AdminServer {
	s := &AdminServer{
		jobs:      jobs,
		snapshots: snapshots,
		logs:      logs,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs/{name}/trigger", s.handleTrigger)
	mux.HandleFunc("GET /v1/executions/{id}", s.handleExecution)
	mux.HandleFunc("GET /v1/executions", s.handleRecentExecutions)
	mux.HandleFunc("GET /v1/stations/{id}/quality", s.handleStationQuality)
	mux.HandleFunc("GET /v1/stations/{id}/imputations", s.handleImputationLog)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start begins serving in the background
func (s *AdminServer) Start() error {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Admin server error: %v\n", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully
func (s *AdminServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		fmt.Printf("Admin server shutdown error: %v\n", err)
	}
}

type executionResponse struct {
	JobID            string     `json:"job_id"`
	JobName          string     `json:"job_name"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	RecordsProcessed int        `json:"records_processed"`
	GapsFilled       int        `json:"gaps_filled"`
	Error            string     `json:"error,omitempty"`
}

func toExecutionResponse(exec scheduler.JobExecution) executionResponse {
	return executionResponse{
		JobID:            exec.JobID,
		JobName:          exec.JobName,
		Status:           string(exec.Status),
		StartedAt:        exec.StartedAt,
		CompletedAt:      exec.CompletedAt,
		RecordsProcessed: exec.RecordsProcessed,
		GapsFilled:       exec.GapsFilled,
		Error:            exec.Error,
	}
}

func (s *AdminServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	jobID, err := s.jobs.Trigger(name)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *AdminServer) handleExecution(w http.ResponseWriter, r *http.Request) {
	exec, ok := s.jobs.Execution(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, toExecutionResponse(exec))
}

func (s *AdminServer) handleRecentExecutions(w http.ResponseWriter, r *http.Request) {
	executions := s.jobs.RecentExecutions()
	out := make([]executionResponse, len(executions))
	for i, exec := range executions {
		out[i] = toExecutionResponse(exec)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *AdminServer) handleStationQuality(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.snapshots.StationSnapshots(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (s *AdminServer) handleImputationLog(w http.ResponseWriter, r *http.Request) {
	stationID := r.PathValue("id")
	parameter := r.URL.Query().Get("parameter")
	if parameter == "" {
		writeError(w, http.StatusBadRequest, "parameter query argument is required")
		return
	}

	start, err := parseTimeParam(r, "from", time.Now().UTC().Add(-72*time.Hour))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseTimeParam(r, "to", time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.logs.ListImputationLog(r.Context(), stationID, parameter, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseTimeParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %s (expected RFC3339)", name, raw)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Printf("Failed to encode response: %v\n", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
