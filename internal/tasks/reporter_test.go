package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]Record
	history map[string][]Record
	failPut error
}

func newMemStore() *memStore {
	return &memStore{records: map[string]Record{}, history: map[string][]Record{}}
}

func (m *memStore) Put(ctx context.Context, taskID string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[taskID] = append(m.history[taskID], rec)
	if m.failPut != nil {
		return m.failPut
	}
	m.records[taskID] = rec
	return nil
}

func (m *memStore) Get(ctx context.Context, taskID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[taskID]
	if !ok {
		return Record{}, ErrTaskNotFound
	}
	return rec, nil
}

func (m *memStore) updates(taskID string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.history[taskID]...)
}

type recordingListener struct {
	mu      sync.Mutex
	records []Record
}

func (l *recordingListener) Notify(ctx context.Context, taskID string, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func TestReporterCurrentNeverDecreasesAndStaysWithinTotal(t *testing.T) {
	store := newMemStore()
	listener := &recordingListener{}
	r := NewReporter("task-1", "upload", store, 4, listener)
	ctx := context.Background()

	events := []Event{
		{Status: "staging", Current: 10},
		{Status: "half", Current: 5, Total: 10},
		{Status: "regress", Current: 20},
		{Status: "overshoot", Current: 250},
		{Status: "fraction", Current: 3, Total: 4},
	}
	for _, ev := range events {
		if err := r.Send(ctx, ev); err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}
	if err := r.Finish(ctx, StateSuccess, "done"); err != nil {
		t.Fatalf("finish failed: %v", err)
	}

	updates := store.updates("task-1")
	if len(updates) != len(events)+1 {
		t.Fatalf("expected %d updates, got %d", len(events)+1, len(updates))
	}

	last := -1
	for i, rec := range updates {
		if rec.Current < last {
			t.Fatalf("update %d went backwards: %d < %d", i, rec.Current, last)
		}
		if rec.Current > rec.Total {
			t.Fatalf("update %d exceeds total: %d > %d", i, rec.Current, rec.Total)
		}
		last = rec.Current
	}

	if updates[1].Current != 50 {
		t.Fatalf("expected 5/10 to become 50, got %d", updates[1].Current)
	}
	if updates[2].Current != 50 {
		t.Fatalf("expected regression to be clamped to 50, got %d", updates[2].Current)
	}
	if updates[3].Current != 100 {
		t.Fatalf("expected overshoot to be clamped to 100, got %d", updates[3].Current)
	}

	final := updates[len(updates)-1]
	if final.State != StateSuccess || final.Status != "done" {
		t.Fatalf("unexpected final record %+v", final)
	}
	if len(listener.records) != len(updates) {
		t.Fatalf("expected listener to see every update")
	}
}

func TestReporterRejectsUpdatesAfterTerminal(t *testing.T) {
	store := newMemStore()
	r := NewReporter("task-2", "backup", store, 1)
	ctx := context.Background()

	if err := r.Send(ctx, Event{State: StateFailure, Status: "boom"}); err != nil {
		t.Fatalf("terminal send failed: %v", err)
	}
	if err := r.Send(ctx, Event{Status: "late", Current: 90}); !errors.Is(err, ErrTaskFinished) {
		t.Fatalf("expected ErrTaskFinished, got %v", err)
	}
	if err := r.Finish(ctx, StateSuccess, "again"); !errors.Is(err, ErrTaskFinished) {
		t.Fatalf("expected ErrTaskFinished from Finish, got %v", err)
	}
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	rec, err := store.Get(ctx, "task-2")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rec.State != StateFailure || rec.Status != "boom" {
		t.Fatalf("expected failure record to be final, got %+v", rec)
	}
	if len(store.updates("task-2")) != 1 {
		t.Fatalf("expected exactly one update")
	}
}

func TestReporterStoreErrorsDoNotReachSender(t *testing.T) {
	store := newMemStore()
	store.failPut = errors.New("disk full")
	r := NewReporter("task-3", "upload", store, 2)
	ctx := context.Background()

	if err := r.Send(ctx, Event{Status: "working", Current: 40}); err != nil {
		t.Fatalf("expected fire-and-forget send, got %v", err)
	}
	if err := r.Finish(ctx, StateSuccess, "ok"); err != nil {
		t.Fatalf("expected finish to succeed, got %v", err)
	}
	if len(store.updates("task-3")) != 2 {
		t.Fatalf("expected both updates to be attempted")
	}
}

func TestEmitIgnoresNilSink(t *testing.T) {
	Emit(context.Background(), nil, "nothing", 10, 100)
}

func TestPercent(t *testing.T) {
	cases := []struct {
		current, total, want int
	}{
		{0, 0, 0},
		{42, 0, 42},
		{42, 100, 42},
		{1, 3, 33},
		{7, 7, 100},
		{-5, 0, 0},
		{500, 0, 100},
	}
	for _, c := range cases {
		if got := Percent(c.current, c.total); got != c.want {
			t.Fatalf("Percent(%d, %d) = %d, want %d", c.current, c.total, got, c.want)
		}
	}
}
