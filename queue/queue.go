// Package queue orders generation requests into a single-consumer
// FIFO so at most one job is in flight against the ComfyUI API.
package queue

import (
	"context"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/robfig/cron/v3"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
)

// Job is one pending generation request. Do performs the work,
// including delivery of the result to the requester; the queue only
// sequences jobs and tracks their status.
type Job struct {
	ID        string
	UserID    string
	UserName  string
	Width     int
	Height    int
	Status    Status
	CreatedAt time.Time

	Do func(ctx context.Context) error
}

// Queue is an ordered single-consumer job list. Enqueue appends to
// the tail, the worker started by Run pops from the head and runs one
// job at a time to completion.
type Queue struct {
	timeout time.Duration

	mu      sync.Mutex
	pending []*Job
	running *Job
	wake    chan struct{}
}

// New creates a queue whose jobs are each bounded by timeout.
func New(timeout time.Duration) *Queue {
	return &Queue{timeout: timeout, wake: make(chan struct{}, 1)}
}

// Enqueue appends a job and returns its 1-based queue position.
func (q *Queue) Enqueue(j *Job) int {
	q.mu.Lock()
	j.Status = StatusQueued
	j.CreatedAt = time.Now()
	q.pending = append(q.pending, j)
	pos := len(q.pending)
	q.mu.Unlock()

	log.Printf("[INFO] job %s queued for %s, position %d", j.ID, j.UserName, pos)
	q.kick()
	return pos
}

// Len returns the number of pending jobs, not counting the in-flight one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Snapshot returns copies of the pending jobs in order and the
// in-flight job, nil when idle.
func (q *Queue) Snapshot() (pending []Job, running *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending = make([]Job, len(q.pending))
	for i, j := range q.pending {
		pending[i] = *j
	}
	if q.running != nil {
		r := *q.running
		running = &r
	}
	return pending, running
}

// Run consumes the queue until ctx is cancelled. It also starts a
// watchdog that every five minutes warns on long backlogs and kicks
// the worker if pending jobs are sitting idle.
func (q *Queue) Run(ctx context.Context) {
	watchdog := cron.New()
	_, err := watchdog.AddFunc("@every 5m", func() { q.checkStalled() })
	if err != nil {
		log.Printf("[WARN] can't schedule queue watchdog: %v", err)
	}
	watchdog.Start()
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[INFO] queue worker stopped")
			return
		case <-q.wake:
			for {
				job := q.pop()
				if job == nil {
					break
				}
				q.runJob(ctx, job)
			}
		}
	}
}

func (q *Queue) pop() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	job.Status = StatusSubmitted
	q.running = job
	return job
}

func (q *Queue) runJob(ctx context.Context, job *Job) {
	q.mu.Lock()
	job.Status = StatusRunning
	remaining := len(q.pending)
	q.mu.Unlock()

	log.Printf("[INFO] job %s started for %s, %dx%d, %d left in queue",
		job.ID, job.UserName, job.Width, job.Height, remaining)
	started := time.Now()

	jctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	err := job.Do(jctx)

	// Snapshot copies the in-flight job under the lock, so the final
	// status write has to happen there too.
	q.mu.Lock()
	if err != nil {
		job.Status = StatusFailed
	} else {
		job.Status = StatusDone
	}
	q.running = nil
	q.mu.Unlock()

	if err != nil {
		log.Printf("[WARN] job %s for %s failed after %v: %v", job.ID, job.UserName, time.Since(started).Round(time.Millisecond), err)
		return
	}
	log.Printf("[INFO] job %s for %s done in %v", job.ID, job.UserName, time.Since(started).Round(time.Millisecond))
}

// kick wakes the worker without blocking; a pending wakeup is enough.
func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) checkStalled() {
	q.mu.Lock()
	backlog := len(q.pending)
	idle := q.running == nil
	q.mu.Unlock()

	if backlog > 10 {
		log.Printf("[WARN] queue backlog is long: %d jobs waiting", backlog)
	}
	if idle && backlog > 0 {
		log.Printf("[INFO] queue has %d pending jobs but no worker activity, kicking", backlog)
		q.kick()
	}
}
