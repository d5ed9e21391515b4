package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smukkama/airquality-server/internal/timer"
)

// JobResult carries the counters a job reports on completion
type JobResult struct {
	RecordsProcessed int
	GapsFilled       int
}

// JobFunc is the body of a scheduled job
type JobFunc func(ctx context.Context) (JobResult, error)

// NextFunc computes the next run time after now
type NextFunc func(now time.Time) time.Time

type job struct {
	name string
	next NextFunc
	fn   JobFunc
}

// Scheduler sequences the ingestion, imputation, quality, and model
// refresh jobs. Each job allows at most one in-flight run; a trigger
// that fires while the previous run is still active is skipped, not
// queued. Job errors and panics are recorded in the execution history
// and never reach the dispatch loop.
type Scheduler struct {
	queue   *timer.Queue
	history *History

	mu      sync.Mutex
	jobs    map[string]*job
	running map[string]bool
	started bool

	nowFunc func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler with a history of the given capacity
func New(historySize int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		queue:   timer.NewQueue(),
		history: NewHistory(historySize),
		jobs:    make(map[string]*job),
		running: make(map[string]bool),
		nowFunc: time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a recurring job. Must be called before Start.
func (s *Scheduler) Register(name string, next NextFunc, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = &job{name: name, next: next, fn: fn}
}

// Start schedules every registered job and launches the timer queue
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	s.queue.Start()
	for _, j := range jobs {
		s.scheduleNext(j)
	}
}

// Stop cancels in-flight jobs and halts the timer queue
func (s *Scheduler) Stop() {
	s.cancel()
	s.queue.Stop()
	s.wg.Wait()
}

// Trigger runs a job immediately, outside its schedule. It returns the
// execution ID, or an error when the job is unknown or already running.
func (s *Scheduler) Trigger(name string) (string, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unknown job: %s", name)
	}

	jobID, started := s.runJob(j)
	if !started {
		return "", fmt.Errorf("job %s is already running", name)
	}
	return jobID, nil
}

// Execution returns the recorded execution with the given ID
func (s *Scheduler) Execution(jobID string) (JobExecution, bool) {
	return s.history.Get(jobID)
}

// RecentExecutions returns the retained execution history, newest last
func (s *Scheduler) RecentExecutions() []JobExecution {
	return s.history.Recent()
}

func (s *Scheduler) scheduleNext(j *job) {
	nextRun := j.next(s.nowFunc())
	fmt.Printf("Job %s scheduled for %s\n", j.name, nextRun.Format("2006-01-02 15:04:05"))

	err := s.queue.Schedule(j.name, nextRun, func() {
		s.runJob(j)
		s.scheduleNext(j)
	})
	if err != nil {
		// Queue stopped during shutdown
		return
	}
}

// runJob executes one job body with overlap protection. The returned
// bool is false when a previous run was still active and this trigger
// was coalesced away.
func (s *Scheduler) runJob(j *job) (string, bool) {
	s.mu.Lock()
	if s.running[j.name] {
		s.mu.Unlock()
		fmt.Printf("Job %s still running, skipping trigger\n", j.name)
		return "", false
	}
	s.running[j.name] = true
	s.mu.Unlock()

	exec := &JobExecution{
		JobID:     uuid.New().String(),
		JobName:   j.name,
		Status:    StatusRunning,
		StartedAt: s.nowFunc(),
	}
	s.history.Record(exec)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, j.name)
			s.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				fmt.Printf("Job %s panicked: %v\n", j.name, r)
				s.history.Complete(exec.JobID, StatusFailed, JobResult{}, fmt.Sprintf("panic: %v", r), s.nowFunc())
			}
		}()

		fmt.Printf("--- Running job %s ---\n", j.name)
		result, err := j.fn(s.ctx)
		if err != nil {
			fmt.Printf("Job %s failed: %v\n", j.name, err)
			s.history.Complete(exec.JobID, StatusFailed, result, err.Error(), s.nowFunc())
			return
		}

		fmt.Printf("--- Job %s complete (records=%d, gaps=%d) ---\n",
			j.name, result.RecordsProcessed, result.GapsFilled)
		s.history.Complete(exec.JobID, StatusCompleted, result, "", s.nowFunc())
	}()

	return exec.JobID, true
}

// NextHourly returns the next hour boundary plus offset. The offset
// leaves time for upstream data to land before the pipeline reads it.
func NextHourly(now time.Time, offset time.Duration) time.Time {
	next := now.Truncate(time.Hour).Add(time.Hour).Add(offset)
	if now.After(next) {
		next = next.Add(time.Hour)
	}
	return next
}

// NextInterval returns now plus a fixed interval
func NextInterval(interval time.Duration) NextFunc {
	return func(now time.Time) time.Time {
		return now.Add(interval)
	}
}

// NextDaily returns the next occurrence of a "HH:MM" time of day
func NextDaily(now time.Time, timeOfDay string) (time.Time, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(timeOfDay, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("invalid time format: %s (expected HH:MM)", timeOfDay)
	}

	todayRun := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(todayRun) {
		return todayRun.AddDate(0, 0, 1), nil
	}
	return todayRun, nil
}
