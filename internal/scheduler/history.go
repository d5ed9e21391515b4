package scheduler

import (
	"sync"
	"time"
)

// Status values for a job execution
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// JobExecution records one run of a scheduled job. It is mutated exactly
// once after creation, when the run finishes.
type JobExecution struct {
	JobID            string
	JobName          string
	Status           Status
	StartedAt        time.Time
	CompletedAt      *time.Time
	RecordsProcessed int
	GapsFilled       int
	Error            string
}

// History retains the most recent job executions in a bounded ring.
// Once full, recording a new execution evicts the oldest.
type History struct {
	mu       sync.RWMutex
	capacity int
	entries  []*JobExecution
	byID     map[string]*JobExecution
}

// NewHistory creates a history retaining up to capacity executions
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 100
	}
	return &History{
		capacity: capacity,
		byID:     make(map[string]*JobExecution),
	}
}

// Record adds a new execution, evicting the oldest when full
func (h *History) Record(exec *JobExecution) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) >= h.capacity {
		oldest := h.entries[0]
		h.entries = h.entries[1:]
		delete(h.byID, oldest.JobID)
	}

	h.entries = append(h.entries, exec)
	h.byID[exec.JobID] = exec
}

// Complete finalizes an execution with its terminal status
func (h *History) Complete(jobID string, status Status, result JobResult, errMsg string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	exec, ok := h.byID[jobID]
	if !ok {
		return
	}

	exec.Status = status
	exec.CompletedAt = &at
	exec.RecordsProcessed = result.RecordsProcessed
	exec.GapsFilled = result.GapsFilled
	exec.Error = errMsg
}

// Get returns a copy of the execution with the given ID
func (h *History) Get(jobID string) (JobExecution, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	exec, ok := h.byID[jobID]
	if !ok {
		return JobExecution{}, false
	}
	return *exec, true
}

// Recent returns copies of the retained executions, newest last
func (h *History) Recent() []JobExecution {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]JobExecution, len(h.entries))
	for i, e := range h.entries {
		out[i] = *e
	}
	return out
}

// Len returns the number of retained executions
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
