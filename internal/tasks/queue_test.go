package tasks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func waitForState(t *testing.T, store Store, id string, want State) Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := store.Get(context.Background(), id)
		if err == nil && rec.State == want {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached %s", id, want)
	return Record{}
}

func TestQueueRunsJobsToCompletion(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store, 2, 4)
	q.Start(context.Background())
	defer q.Stop()

	ctx := context.Background()
	okID, err := q.Submit(ctx, "upload", func(ctx context.Context, sink Sink) (string, error) {
		Emit(ctx, sink, "half", 50, 100)
		return "uploaded", nil
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	failID, err := q.Submit(ctx, "backup", func(ctx context.Context, sink Sink) (string, error) {
		return "", errors.New("tool failed")
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	ok := waitForState(t, store, okID, StateSuccess)
	if ok.Status != "uploaded" || ok.Current != 100 {
		t.Fatalf("unexpected success record %+v", ok)
	}

	failed := waitForState(t, store, failID, StateFailure)
	if failed.Status != "tool failed" {
		t.Fatalf("unexpected failure status %q", failed.Status)
	}

	first := store.updates(okID)[0]
	if first.State != StatePending {
		t.Fatalf("expected first record to be PENDING, got %s", first.State)
	}
}

func TestQueueRecoversFromPanickingJob(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store, 1, 1)
	q.Start(context.Background())
	defer q.Stop()

	id, err := q.Submit(context.Background(), "restore", func(ctx context.Context, sink Sink) (string, error) {
		panic("unexpected")
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	waitForState(t, store, id, StateFailure)
}

func TestQueueSubmitAfterStop(t *testing.T) {
	q := NewQueue(newMemStore(), 1, 1)
	q.Start(context.Background())
	q.Stop()
	q.Stop()

	_, err := q.Submit(context.Background(), "upload", func(ctx context.Context, sink Sink) (string, error) {
		return "", nil
	})
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestClientState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/tasks/good":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"state":"SUCCESS","status":"done","current":100,"total":100}`))
		case "/api/v1/tasks/crashed":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("Internal Server Error"))
		default:
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream"))
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	ctx := context.Background()

	rec, err := client.State(ctx, "good")
	if err != nil {
		t.Fatalf("state failed: %v", err)
	}
	if rec.State != StateSuccess || rec.HTTP.StatusCode != 200 || rec.HTTP.StatusReason != "OK" {
		t.Fatalf("unexpected record %+v", rec)
	}

	rec, err = client.State(ctx, "crashed")
	if err != nil {
		t.Fatalf("expected fallback record, got %v", err)
	}
	if rec.State != StateFailure || rec.Status != "Internal server error" {
		t.Fatalf("unexpected fallback %+v", rec)
	}

	if _, err := client.State(ctx, "other"); !errors.Is(err, ErrMalformedTaskResponse) {
		t.Fatalf("expected malformed response, got %v", err)
	}
}
