package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store persists the latest record of each task
type Store interface {
	Put(ctx context.Context, taskID string, rec Record) error
	Get(ctx context.Context, taskID string) (Record, error)
}

// Listener receives every record a reporter forwards
type Listener interface {
	Notify(ctx context.Context, taskID string, rec Record) error
}

// SQLStore keeps task records in the task_states table
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

func (s *SQLStore) Put(ctx context.Context, taskID string, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_states (task_id, kind, state, status, current, total, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			state = excluded.state,
			status = excluded.status,
			current = excluded.current,
			total = excluded.total,
			updated_at = excluded.updated_at
	`, taskID, rec.Kind, string(rec.State), rec.Status, rec.Current, rec.Total, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", taskID, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, taskID string) (Record, error) {
	var rec Record
	var state string
	err := s.db.QueryRowContext(ctx, `
		SELECT kind, state, status, current, total FROM task_states WHERE task_id = ?
	`, taskID).Scan(&rec.Kind, &state, &rec.Status, &rec.Current, &rec.Total)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrTaskNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	rec.State = State(state)
	return rec, nil
}
