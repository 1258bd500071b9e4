package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
)

var ErrQueueClosed = errors.New("task queue is closed")

// Job is the body of a queued task. The returned string becomes the status of
// the SUCCESS record; an error becomes the status of the FAILURE record.
type Job func(ctx context.Context, sink Sink) (string, error)

type queuedJob struct {
	id   string
	kind string
	run  Job
}

// Queue runs jobs on a fixed number of workers, each job with its own
// Reporter.
type Queue struct {
	store     Store
	lmu       sync.RWMutex
	listeners []Listener
	workers   int
	buffer    int

	jobs   chan queuedJob
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
}

func NewQueue(store Store, workers, buffer int, listeners ...Listener) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 16
	}
	return &Queue{
		store:     store,
		listeners: listeners,
		workers:   workers,
		buffer:    buffer,
		jobs:      make(chan queuedJob, buffer),
	}
}

// AddListener registers l for reporters created after the call
func (q *Queue) AddListener(l Listener) {
	q.lmu.Lock()
	defer q.lmu.Unlock()
	q.listeners = append(q.listeners, l)
}

// Start launches the workers. Cancelling ctx cancels running jobs.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	log.Printf("[Tasks] Queue started with %d workers", q.workers)
}

// Submit records the job as PENDING and queues it. It returns the task id.
func (q *Queue) Submit(ctx context.Context, kind string, job Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrQueueClosed
	}

	id := uuid.New().String()
	pending := Record{State: StatePending, Status: "queued", Current: 0, Total: 100, Kind: kind}
	if err := q.store.Put(ctx, id, pending); err != nil {
		return "", fmt.Errorf("failed to record pending task: %w", err)
	}

	select {
	case q.jobs <- queuedJob{id: id, kind: kind, run: job}:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Get returns the latest record of a task
func (q *Queue) Get(ctx context.Context, taskID string) (Record, error) {
	return q.store.Get(ctx, taskID)
}

// Stop refuses new jobs and waits for queued ones to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	if q.cancel != nil {
		q.cancel()
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for job := range q.jobs {
		q.run(ctx, job)
	}
}

func (q *Queue) run(ctx context.Context, job queuedJob) {
	q.lmu.RLock()
	listeners := append([]Listener(nil), q.listeners...)
	q.lmu.RUnlock()

	reporter := NewReporter(job.id, job.kind, q.store, q.buffer, listeners...)

	status, err := safeRun(ctx, job.run, reporter)
	state := StateSuccess
	if err != nil {
		state = StateFailure
		status = err.Error()
		log.Printf("[Tasks] %s task %s failed: %v", job.kind, job.id, err)
	}
	if status == "" {
		status = "done"
	}

	if err := reporter.Finish(context.Background(), state, status); err != nil && !errors.Is(err, ErrTaskFinished) {
		log.Printf("[Tasks] Failed to finish task %s: %v", job.id, err)
	}
}

func safeRun(ctx context.Context, job Job, sink Sink) (status string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return job(ctx, sink)
}
