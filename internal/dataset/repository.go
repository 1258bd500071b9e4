package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pma2020/pma-api/internal/models"
)

const timestampLayout = "2006-01-02 15:04:05"

// Repository reads and writes dataset rows
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) nextVersion(ctx context.Context, tx *sql.Tx) (int, error) {
	var next int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version_number), 0) + 1 FROM datasets").Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to determine next version: %w", err)
	}
	return next, nil
}

func (r *Repository) insert(ctx context.Context, tx *sql.Tx, d *models.Dataset) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO datasets (dataset_display_name, version_number, upload_date, size_bytes, data)
		VALUES (?, ?, ?, ?, ?)
	`, d.DisplayName, d.VersionNumber, d.UploadDate.UTC().Format(timestampLayout), len(d.Payload), d.Payload)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// Get returns the dataset with its payload. A miss returns sql.ErrNoRows.
func (r *Repository) Get(ctx context.Context, id int64) (*models.Dataset, error) {
	var d models.Dataset
	var uploaded string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, dataset_display_name, version_number, upload_date, data
		FROM datasets WHERE id = ?
	`, id).Scan(&d.ID, &d.DisplayName, &d.VersionNumber, &uploaded, &d.Payload)
	if err != nil {
		return nil, err
	}

	if d.UploadDate, err = parseTimestamp(uploaded); err != nil {
		return nil, err
	}
	return &d, nil
}

// List returns dataset metadata, newest first
func (r *Repository) List(ctx context.Context) ([]models.DatasetInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, dataset_display_name, version_number, upload_date, size_bytes
		FROM datasets ORDER BY upload_date DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	infos := []models.DatasetInfo{}
	for rows.Next() {
		var info models.DatasetInfo
		var uploaded string
		if err := rows.Scan(&info.ID, &info.DisplayName, &info.VersionNumber, &uploaded, &info.SizeBytes); err != nil {
			return nil, err
		}
		if info.UploadDate, err = parseTimestamp(uploaded); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}

	return infos, rows.Err()
}

// Count returns the number of dataset rows
func (r *Repository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM datasets").Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// parseTimestamp accepts the stored text form as well as the RFC 3339 form the
// driver produces when it decodes DATETIME columns itself.
func parseTimestamp(value string) (time.Time, error) {
	layouts := []string{timestampLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unrecognized upload_date format: " + value)
}
