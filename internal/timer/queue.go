package timer

import (
	"container/heap"
	"sync"
	"time"
)

// ErrQueueStopped is returned when scheduling on a stopped queue
var ErrQueueStopped = &QueueError{"timer queue is stopped"}

// QueueError represents a timer queue error
type QueueError struct {
	msg string
}

func (e *QueueError) Error() string {
	return e.msg
}

// trigger is one pending callback ordered by its due time
type trigger struct {
	id    string
	dueAt time.Time
	fn    func()
	index int // position in the heap
}

type triggerHeap []*trigger

func (h triggerHeap) Len() int { return len(h) }

func (h triggerHeap) Less(i, j int) bool {
	return h[i].dueAt.Before(h[j].dueAt)
}

func (h triggerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *triggerHeap) Push(x interface{}) {
	t := x.(*trigger)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *triggerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[0 : n-1]
	return t
}

// Queue dispatches scheduled callbacks from a min-heap ordered by due
// time. Scheduling an ID that is already pending replaces it, which is
// what lets the job orchestrator coalesce triggers.
type Queue struct {
	heap    triggerHeap
	byID    map[string]*trigger
	mu      sync.Mutex
	wakeup  chan struct{}
	stopCh  chan struct{}
	stopped bool
}

// NewQueue creates a timer queue
func NewQueue() *Queue {
	q := &Queue{
		heap:   make(triggerHeap, 0),
		byID:   make(map[string]*trigger),
		wakeup: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	heap.Init(&q.heap)
	return q
}

// Start launches the dispatch loop
func (q *Queue) Start() {
	go q.run()
}

// Stop halts dispatching; pending triggers are dropped
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return
	}
	q.stopped = true
	close(q.stopCh)
}

// Schedule registers fn to run at dueAt, replacing any pending trigger
// with the same ID
func (q *Queue) Schedule(id string, dueAt time.Time, fn func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrQueueStopped
	}

	if existing, ok := q.byID[id]; ok {
		heap.Remove(&q.heap, existing.index)
		delete(q.byID, id)
	}

	t := &trigger{id: id, dueAt: dueAt, fn: fn}
	heap.Push(&q.heap, t)
	q.byID[id] = t

	// Wake the dispatcher if this became the earliest trigger
	if q.heap[0] == t {
		select {
		case q.wakeup <- struct{}{}:
		default:
		}
	}

	return nil
}

// Cancel removes a pending trigger; returns false if none was pending
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.byID[id]
	if !ok {
		return false
	}

	heap.Remove(&q.heap, t.index)
	delete(q.byID, id)
	return true
}

// Pending returns the number of scheduled triggers
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byID)
}

func (q *Queue) run() {
	for {
		q.mu.Lock()

		if q.stopped {
			q.mu.Unlock()
			return
		}

		wait := time.Hour
		if q.heap.Len() > 0 {
			next := q.heap[0]
			wait = time.Until(next.dueAt)

			if wait <= 0 {
				t := heap.Pop(&q.heap).(*trigger)
				delete(q.byID, t.id)
				q.mu.Unlock()

				go t.fn()
				continue
			}
		}

		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-q.wakeup:
			timer.Stop()
		case <-q.stopCh:
			timer.Stop()
			return
		}
	}
}
