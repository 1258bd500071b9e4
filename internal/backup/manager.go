package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pma2020/pma-api/internal/config"
	"github.com/pma2020/pma-api/internal/metrics"
	"github.com/pma2020/pma-api/internal/models"
	"github.com/pma2020/pma-api/internal/storage"
	"github.com/pma2020/pma-api/internal/tasks"
)

// Manager orchestrates backup and restore of the data store. Each run is
// recorded in backup_operations as idle -> running -> stored|applied|failed.
type Manager struct {
	dest       Destination
	tool       Tool
	ops        *operationStore
	files      *storage.Writer
	prefix     string
	osTag      string
	envTag     string
	stagingDir string
	now        func() time.Time
}

// NewManager creates a manager. db may be nil, in which case runs are not
// recorded. Staged and locally dumped files go through files.
func NewManager(db *sql.DB, dest Destination, tool Tool, files *storage.Writer, cfg *config.Config) *Manager {
	osTag := cfg.Backup.OSTag
	if osTag == "" {
		osTag = runtime.GOOS
	}

	if files == nil {
		files = storage.NewWriter(nil)
	}

	return &Manager{
		dest:       dest,
		tool:       tool,
		ops:        &operationStore{db: db},
		files:      files,
		prefix:     cfg.Backup.Prefix,
		osTag:      sanitizeTag(osTag),
		envTag:     sanitizeTag(cfg.Server.Environment),
		stagingDir: filepath.Join(cfg.Storage.TempDir, "backups"),
		now:        time.Now,
	}
}

// SetClock replaces the time source used for artifact names
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Destination returns the configured destination
func (m *Manager) Destination() Destination {
	return m.dest
}

// Backup dumps the data store and stores the dump at the destination.
func (m *Manager) Backup(ctx context.Context, sink tasks.Sink) (*models.BackupArtifact, error) {
	start := time.Now()
	name := NewArtifactName(m.prefix, m.osTag, m.envTag, m.now())
	filename := name.FileName()

	op := m.begin(ctx, "backup", name.String(), filename)
	log.Printf("[BackupMgr] Creating backup %s at %s destination", name, m.dest.GetType())
	tasks.Emit(ctx, sink, "Creating backup "+name.String(), 10, 100)

	size, err := m.dumpAndStore(ctx, filename, sink)
	if err != nil {
		m.fail(ctx, op, start, err)
		return nil, err
	}

	op.SizeBytes = size
	m.finish(ctx, op, start, models.OperationStored)
	metrics.BackupArtifactBytes.Set(float64(size))
	log.Printf("[BackupMgr] Backup %s created successfully (%d bytes)", name, size)
	tasks.Emit(ctx, sink, "Stored backup "+name.String(), 90, 100)

	return &models.BackupArtifact{
		Name:        name.String(),
		PathOrKey:   m.dest.Location(filename),
		OSTag:       name.OSTag,
		EnvTag:      name.EnvTag,
		Destination: m.dest.GetType(),
		SizeBytes:   size,
		CreatedAt:   name.CreatedAt,
	}, nil
}

func (m *Manager) dumpAndStore(ctx context.Context, filename string, sink tasks.Sink) (int64, error) {
	// Local backups are dumped in place
	if local, ok := m.dest.(*LocalDestination); ok {
		target := local.Path(filename)
		if err := m.files.MkdirAll(filepath.Dir(target)); err != nil {
			return 0, err
		}
		if err := m.tool.Dump(ctx, target); err != nil {
			m.files.Remove(target)
			return 0, err
		}
		return m.files.Size(target)
	}

	staged, err := m.stage(filename)
	if err != nil {
		return 0, err
	}
	defer m.unstage(staged)

	if err := m.tool.Dump(ctx, staged); err != nil {
		return 0, err
	}
	tasks.Emit(ctx, sink, "Uploading "+filename, 50, 100)

	f, err := m.files.Open(staged)
	if err != nil {
		return 0, fmt.Errorf("failed to open staged dump: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat staged dump: %w", err)
	}

	if err := m.dest.Upload(ctx, filename, f, info.Size()); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Restore applies the artifact named by ref to the data store. ref may be a
// bare name, a file name, a path or an object URL.
func (m *Manager) Restore(ctx context.Context, ref string, sink tasks.Sink) error {
	start := time.Now()
	name, err := ResolveArtifactName(ref)
	if err != nil {
		return err
	}
	filename := name.FileName()

	op := m.begin(ctx, "restore", name.String(), filename)
	log.Printf("[BackupMgr] Restoring %s from %s destination", name, m.dest.GetType())
	tasks.Emit(ctx, sink, "Fetching backup "+name.String(), 10, 100)

	size, err := m.fetchAndApply(ctx, filename, sink)
	if err != nil {
		m.fail(ctx, op, start, err)
		return err
	}

	op.SizeBytes = size
	m.finish(ctx, op, start, models.OperationApplied)
	log.Printf("[BackupMgr] Backup %s restored successfully", name)
	tasks.Emit(ctx, sink, "Restored backup "+name.String(), 90, 100)
	return nil
}

func (m *Manager) fetchAndApply(ctx context.Context, filename string, sink tasks.Sink) (int64, error) {
	if local, ok := m.dest.(*LocalDestination); ok {
		source := local.Path(filename)
		size, err := m.files.Size(source)
		if errors.Is(err, os.ErrNotExist) {
			return 0, &ArtifactNotFoundError{Name: filename, Destination: local.GetType()}
		}
		if err != nil {
			return 0, err
		}
		tasks.Emit(ctx, sink, "Applying "+filename, 50, 100)
		return size, m.tool.Apply(ctx, source)
	}

	staged, err := m.stage(filename)
	if err != nil {
		return 0, err
	}
	defer m.unstage(staged)

	f, err := m.files.Create(staged)
	if err != nil {
		return 0, fmt.Errorf("failed to create staging file: %w", err)
	}
	size, err := m.dest.Download(ctx, filename, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, err
	}

	tasks.Emit(ctx, sink, "Applying "+filename, 50, 100)
	return size, m.tool.Apply(ctx, staged)
}

// Delete removes the artifact named by ref from the destination
func (m *Manager) Delete(ctx context.Context, ref string) error {
	name, err := ResolveArtifactName(ref)
	if err != nil {
		return err
	}
	log.Printf("[BackupMgr] Deleting backup %s", name)
	return m.dest.Delete(ctx, name.FileName())
}

// Owned is List restricted to artifacts this manager names: same prefix,
// OS tag and environment tag. Other hosts and environments may share the
// destination.
func (m *Manager) Owned(ctx context.Context) ([]models.BackupArtifact, error) {
	artifacts, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	owned := []models.BackupArtifact{}
	for _, artifact := range artifacts {
		name, err := ParseArtifactName(artifact.Name)
		if err != nil {
			continue
		}
		if name.Prefix == m.prefix && name.OSTag == m.osTag && name.EnvTag == m.envTag {
			owned = append(owned, artifact)
		}
	}
	return owned, nil
}

// List returns the artifacts at the destination, newest first. Files that do
// not follow the naming scheme are ignored.
func (m *Manager) List(ctx context.Context) ([]models.BackupArtifact, error) {
	files, err := m.dest.List(ctx)
	if err != nil {
		return nil, err
	}

	artifacts := []models.BackupArtifact{}
	for _, file := range files {
		if !strings.HasSuffix(file.Filename, ArtifactExt) {
			continue
		}
		name, err := ParseArtifactName(file.Filename)
		if err != nil {
			continue
		}
		artifacts = append(artifacts, models.BackupArtifact{
			Name:        name.String(),
			PathOrKey:   m.dest.Location(file.Filename),
			OSTag:       name.OSTag,
			EnvTag:      name.EnvTag,
			Destination: m.dest.GetType(),
			SizeBytes:   file.SizeBytes,
			CreatedAt:   name.CreatedAt,
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		if !artifacts[i].CreatedAt.Equal(artifacts[j].CreatedAt) {
			return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
		}
		return artifacts[i].Name > artifacts[j].Name
	})

	return artifacts, nil
}

// Latest returns the newest artifact
func (m *Manager) Latest(ctx context.Context) (*models.BackupArtifact, error) {
	artifacts, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, &ArtifactNotFoundError{Name: "latest", Destination: m.dest.GetType()}
	}
	return &artifacts[0], nil
}

// Operations returns recorded backup and restore runs, newest first
func (m *Manager) Operations(ctx context.Context, limit int) ([]models.BackupOperation, error) {
	return m.ops.list(ctx, limit)
}

func (m *Manager) begin(ctx context.Context, kind, name, filename string) *models.BackupOperation {
	op := &models.BackupOperation{
		ID:              kind + "-" + uuid.New().String()[:8],
		Kind:            kind,
		ArtifactName:    name,
		DestinationType: m.dest.GetType(),
		DestinationPath: m.dest.Location(filename),
		State:           models.OperationIdle,
		StartedAt:       time.Now().UTC(),
	}
	m.record(ctx, op)

	op.State = models.OperationRunning
	m.record(ctx, op)
	return op
}

func (m *Manager) finish(ctx context.Context, op *models.BackupOperation, start time.Time, state models.BackupOperationState) {
	now := time.Now().UTC()
	op.State = state
	op.FinishedAt = &now
	m.record(ctx, op)

	metrics.BackupOperations.WithLabelValues(op.Kind, op.DestinationType, string(state)).Inc()
	metrics.BackupDuration.WithLabelValues(op.Kind).Observe(time.Since(start).Seconds())
}

func (m *Manager) fail(ctx context.Context, op *models.BackupOperation, start time.Time, err error) {
	op.ErrorMessage = err.Error()

	var toolErr *ExternalToolFailure
	if errors.As(err, &toolErr) {
		op.CorrelationID = toolErr.CorrelationID
	}

	log.Printf("[BackupMgr] %s %s failed (destination %s): %v", op.Kind, op.ArtifactName, op.DestinationPath, err)
	m.finish(ctx, op, start, models.OperationFailed)
}

// record is best effort; a failed bookkeeping write never fails the run
func (m *Manager) record(ctx context.Context, op *models.BackupOperation) {
	if err := m.ops.save(context.WithoutCancel(ctx), op); err != nil {
		log.Printf("[BackupMgr] Warning: Failed to record %s state %s: %v", op.ID, op.State, err)
	}
}

func (m *Manager) stage(filename string) (string, error) {
	if err := m.files.MkdirAll(m.stagingDir); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	return filepath.Join(m.stagingDir, filename), nil
}

func (m *Manager) unstage(path string) {
	if err := m.files.Remove(path); err != nil {
		log.Printf("[BackupMgr] Warning: Failed to remove staged file %s: %v", path, err)
	}
}
