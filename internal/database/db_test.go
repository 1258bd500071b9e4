package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "data", "test.db"), 1)
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestNewDBAndMigrate(t *testing.T) {
	db := newTestDB(t)

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count); err != nil {
		t.Fatalf("failed to query migrations: %v", err)
	}
	if count != len(migrations) {
		t.Fatalf("expected %d migrations applied, got %d", len(migrations), count)
	}

	// Running again is a no-op
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}

	empty, err := db.IsEmpty(context.Background())
	if err != nil {
		t.Fatalf("is empty failed: %v", err)
	}
	if !empty {
		t.Fatalf("expected fresh database to be empty")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := newTestDB(t)

	insert := `INSERT INTO datasets (dataset_display_name, version_number, upload_date, data) VALUES (?, 1, datetime('now'), x'00')`
	if _, err := db.Exec(insert, "survey.xlsx"); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	_, err := db.Exec(insert, "survey.xlsx")
	if err == nil {
		t.Fatalf("expected unique violation")
	}
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation to be detected, got %v", err)
	}
	if IsUniqueViolation(errors.New("disk I/O error")) {
		t.Fatalf("unrelated error must not be a unique violation")
	}

	_, err = db.Exec(`CREATE TABLE datasets (id INTEGER)`)
	if err == nil {
		t.Fatalf("expected duplicate table error")
	}
	if IsUniqueViolation(err) {
		t.Fatalf("table already exists is not a unique violation: %v", err)
	}
	if IsUniqueViolation(errors.New("file already exists")) {
		t.Fatalf("already exists text must not match")
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	boom := errors.New("boom")

	err := WithTx(context.Background(), db.DB, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO datasets (dataset_display_name, version_number, upload_date, data) VALUES ('a.xlsx', 1, datetime('now'), x'00')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM datasets").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback to leave no rows, got %d", count)
	}
}
