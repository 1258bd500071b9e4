package tasks

import (
	"context"
	"log"
	"sync"

	"github.com/pma2020/pma-api/internal/metrics"
)

// Event is a progress update sent by a running job. An empty State means
// PROGRESS; SUCCESS or FAILURE finishes the task.
type Event struct {
	State   State
	Status  string
	Current int
	Total   int
}

// Sink accepts progress events for one task
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// Emit sends a progress event to sink, if any, and drops the error. Progress
// reporting never fails the job it describes.
func Emit(ctx context.Context, sink Sink, status string, current, total int) {
	if sink == nil {
		return
	}
	if err := sink.Send(ctx, Event{Status: status, Current: current, Total: total}); err != nil {
		log.Printf("[Tasks] Dropped progress %q: %v", status, err)
	}
}

// Reporter serializes the events of a single task through a bounded channel.
// One consumer goroutine turns events into records, keeps the percentage
// non-decreasing, and forwards each record to the store and listeners.
type Reporter struct {
	taskID    string
	kind      string
	store     Store
	listeners []Listener

	events chan Event
	done   chan struct{}

	mu       sync.Mutex
	finished bool

	last int
}

// NewReporter starts the consumer goroutine for taskID. buffer bounds how
// many events may be queued before Send blocks.
func NewReporter(taskID, kind string, store Store, buffer int, listeners ...Listener) *Reporter {
	if buffer <= 0 {
		buffer = 16
	}
	r := &Reporter{
		taskID:    taskID,
		kind:      kind,
		store:     store,
		listeners: listeners,
		events:    make(chan Event, buffer),
		done:      make(chan struct{}),
	}
	go r.consume()
	return r
}

// TaskID returns the id records are stored under
func (r *Reporter) TaskID() string {
	return r.taskID
}

// Send queues ev. Progress events give up when ctx is cancelled; a terminal
// event is always queued so the task cannot be left without a final record.
func (r *Reporter) Send(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return ErrTaskFinished
	}

	if ev.State.Terminal() {
		r.finished = true
		r.events <- ev
		close(r.events)
		return nil
	}

	select {
	case r.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish queues a terminal update and waits until it has been forwarded.
func (r *Reporter) Finish(ctx context.Context, state State, status string) error {
	if err := r.Send(ctx, Event{State: state, Status: status}); err != nil {
		return err
	}
	return r.Wait(ctx)
}

// Wait blocks until the terminal record has been forwarded.
func (r *Reporter) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reporter) consume() {
	defer close(r.done)
	for ev := range r.events {
		r.forward(r.apply(ev))
	}
}

// apply converts ev to a record. Only the consumer goroutine touches last.
func (r *Reporter) apply(ev Event) Record {
	if ev.State.Terminal() {
		current := r.last
		if ev.State == StateSuccess {
			current = 100
		}
		r.last = current
		return Record{State: ev.State, Status: ev.Status, Current: current, Total: 100, Kind: r.kind}
	}

	pct := Percent(ev.Current, ev.Total)
	if pct < r.last {
		pct = r.last
	}
	r.last = pct
	return Record{State: StateProgress, Status: ev.Status, Current: pct, Total: 100, Kind: r.kind}
}

func (r *Reporter) forward(rec Record) {
	ctx := context.Background()

	if r.store != nil {
		if err := r.store.Put(ctx, r.taskID, rec); err != nil {
			log.Printf("[Tasks] Failed to store %s update for %s: %v", rec.State, r.taskID, err)
		}
	}

	for _, l := range r.listeners {
		if err := l.Notify(ctx, r.taskID, rec); err != nil {
			log.Printf("[Tasks] Listener failed for %s: %v", r.taskID, err)
		}
	}

	metrics.TaskProgressUpdates.Inc()
	if rec.State.Terminal() {
		metrics.TaskTransitions.WithLabelValues(string(rec.State)).Inc()
	}
}

// Percent maps current/total onto 0..100. A total of 0 or 100 means current is
// already a percentage.
func Percent(current, total int) int {
	pct := current
	if total > 0 && total != 100 {
		pct = current * 100 / total
	}
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
