package backup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pma2020/pma-api/internal/models"
)

// operationStore persists backup/restore runs in backup_operations
type operationStore struct {
	db *sql.DB
}

func (s *operationStore) save(ctx context.Context, op *models.BackupOperation) error {
	if s.db == nil {
		return nil
	}

	var finished interface{}
	if op.FinishedAt != nil {
		finished = op.FinishedAt.UTC().Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backup_operations
		(id, kind, artifact_name, destination_type, destination_path, state,
		 size_bytes, correlation_id, error_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		op.ID,
		op.Kind,
		op.ArtifactName,
		op.DestinationType,
		op.DestinationPath,
		string(op.State),
		op.SizeBytes,
		op.CorrelationID,
		op.ErrorMessage,
		op.StartedAt.UTC().Format(time.RFC3339),
		finished,
	)
	if err != nil {
		return fmt.Errorf("failed to save backup operation: %w", err)
	}
	return nil
}

func (s *operationStore) list(ctx context.Context, limit int) ([]models.BackupOperation, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, artifact_name, destination_type, destination_path, state,
		       size_bytes, correlation_id, error_message, started_at, finished_at
		FROM backup_operations
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backup operations: %w", err)
	}
	defer rows.Close()

	ops := []models.BackupOperation{}
	for rows.Next() {
		var op models.BackupOperation
		var state, started string
		var finished sql.NullString

		if err := rows.Scan(
			&op.ID,
			&op.Kind,
			&op.ArtifactName,
			&op.DestinationType,
			&op.DestinationPath,
			&state,
			&op.SizeBytes,
			&op.CorrelationID,
			&op.ErrorMessage,
			&started,
			&finished,
		); err != nil {
			return nil, fmt.Errorf("failed to scan backup operation: %w", err)
		}

		op.State = models.BackupOperationState(state)
		op.StartedAt = parseStoredTime(started)
		if finished.Valid && finished.String != "" {
			t := parseStoredTime(finished.String)
			op.FinishedAt = &t
		}
		ops = append(ops, op)
	}

	return ops, rows.Err()
}

func parseStoredTime(value string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
