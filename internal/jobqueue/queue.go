// Package jobqueue runs timed actions in time order with a single pending timer
package jobqueue

import (
	"sort"
	"sync"
	"time"
)

// Job is a pending timed action
type Job struct {
	At     time.Time
	Name   string
	Action func()
}

// Dispatcher runs a fired job. Owners use it to execute actions under their own lock.
type Dispatcher func(func())

func direct(f func()) { f() }

// Queue keeps jobs ordered by time and arms one timer for the head job.
//
// Every arm and every Cancel bumps a generation counter. A timer that fires for an
// older generation does nothing, so once Cancel returns no previously queued action
// runs. Add, Run and Cancel may be called from inside an action.
type Queue struct {
	mu       sync.Mutex
	clock    Clock
	dispatch Dispatcher
	jobs     []Job
	timer    Timer
	gen      uint64
	running  bool
}

// New creates an idle queue. A nil clock means the system clock and a nil dispatcher
// runs actions on the timer goroutine.
func New(clock Clock, dispatch Dispatcher) *Queue {
	if clock == nil {
		clock = SystemClock{}
	}
	if dispatch == nil {
		dispatch = direct
	}
	return &Queue{clock: clock, dispatch: dispatch}
}

// Add inserts a job after any job with the same time. On a running queue a new head
// re-arms the timer.
func (q *Queue) Add(at time.Time, name string, action func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := sort.Search(len(q.jobs), func(i int) bool {
		return q.jobs[i].At.After(at)
	})
	q.jobs = append(q.jobs, Job{})
	copy(q.jobs[i+1:], q.jobs[i:])
	q.jobs[i] = Job{At: at, Name: name, Action: action}

	if q.running && i == 0 {
		q.armLocked()
	}
}

// Run arms the timer for the head job
func (q *Queue) Run() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.running = true
	q.armLocked()
}

// Cancel disarms the timer and drops every job
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopLocked()
	q.gen++
	q.jobs = nil
	q.running = false
}

// Len returns the number of pending jobs
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Next returns the head job's time
func (q *Queue) Next() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return time.Time{}, false
	}
	return q.jobs[0].At, true
}

// Jobs returns a copy of the pending jobs without their actions
func (q *Queue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Job, len(q.jobs))
	for i, j := range q.jobs {
		out[i] = Job{At: j.At, Name: j.Name}
	}
	return out
}

func (q *Queue) stopLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (q *Queue) armLocked() {
	q.stopLocked()
	q.gen++

	if len(q.jobs) == 0 {
		return
	}

	gen := q.gen
	delay := max(0, q.jobs[0].At.Sub(q.clock.Now()))
	q.timer = q.clock.AfterFunc(delay, func() {
		q.dispatch(func() { q.fire(gen) })
	})
}

func (q *Queue) fire(gen uint64) {
	q.mu.Lock()
	if gen != q.gen || len(q.jobs) == 0 {
		q.mu.Unlock()
		return
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.timer = nil
	q.mu.Unlock()

	job.Action()

	q.mu.Lock()
	defer q.mu.Unlock()

	// The action re-armed or cancelled the queue itself
	if gen != q.gen {
		return
	}
	q.armLocked()
}
