package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pma2020/pma-api/internal/config"
	"github.com/pma2020/pma-api/internal/database"
	"github.com/pma2020/pma-api/internal/models"
	"github.com/pma2020/pma-api/internal/storage"
	"github.com/pma2020/pma-api/internal/tasks"
	"github.com/spf13/afero"
)

// fakeTool keeps the "database" in memory and dumps it verbatim to fs (the
// OS filesystem when nil)
type fakeTool struct {
	state   []byte
	dumpErr error
	applied int
	fs      afero.Fs
}

func (f *fakeTool) files() afero.Fs {
	if f.fs == nil {
		return afero.NewOsFs()
	}
	return f.fs
}

func (f *fakeTool) Dump(ctx context.Context, path string) error {
	if f.dumpErr != nil {
		afero.WriteFile(f.files(), path, []byte("partial"), 0644)
		return f.dumpErr
	}
	return afero.WriteFile(f.files(), path, f.state, 0644)
}

func (f *fakeTool) Apply(ctx context.Context, path string) error {
	data, err := afero.ReadFile(f.files(), path)
	if err != nil {
		return err
	}
	f.state = data
	f.applied++
	return nil
}

// memDest is a remote destination held in memory
type memDest struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemDest() *memDest { return &memDest{files: map[string][]byte{}} }

func (d *memDest) Upload(ctx context.Context, filename string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.files[filename] = data
	d.mu.Unlock()
	return nil
}

func (d *memDest) Download(ctx context.Context, filename string, w io.WriterAt) (int64, error) {
	d.mu.Lock()
	data, ok := d.files[filename]
	d.mu.Unlock()
	if !ok {
		return 0, &ArtifactNotFoundError{Name: filename, Destination: d.GetType()}
	}
	n, err := w.WriteAt(data, 0)
	return int64(n), err
}

func (d *memDest) Delete(ctx context.Context, filename string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.files[filename]; !ok {
		return &ArtifactNotFoundError{Name: filename, Destination: d.GetType()}
	}
	delete(d.files, filename)
	return nil
}

func (d *memDest) List(ctx context.Context) ([]BackupFile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var files []BackupFile
	for name, data := range d.files {
		files = append(files, BackupFile{Filename: name, SizeBytes: int64(len(data))})
	}
	return files, nil
}

func (d *memDest) Location(filename string) string { return "mem://" + filename }
func (d *memDest) GetType() string                 { return "mem" }
func (d *memDest) Close() error                    { return nil }

func newTestManager(t *testing.T, dest Destination, tool Tool) (*Manager, *config.Config) {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Server.Environment = "test"
	cfg.Backup.OSTag = "linux"
	cfg.Storage.TempDir = filepath.Join(root, "tmp")

	db, err := database.NewDB(filepath.Join(root, "pma.db"), 1)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	var fsys afero.Fs
	if ft, ok := tool.(*fakeTool); ok {
		fsys = ft.fs
	}
	mgr := NewManager(db.DB, dest, tool, storage.NewWriter(fsys), cfg)
	clock := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mgr.SetClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	return mgr, cfg
}

func countStates(ops []models.BackupOperation) map[models.BackupOperationState]int {
	counts := map[models.BackupOperationState]int{}
	for _, op := range ops {
		counts[op.State]++
	}
	return counts
}

func TestBackupRestoreBackupLocal(t *testing.T) {
	ctx := context.Background()
	dest := NewLocalDestination(filepath.Join(t.TempDir(), "backups"))
	tool := &fakeTool{state: []byte("dataset rows")}
	mgr, _ := newTestManager(t, dest, tool)

	first, err := mgr.Backup(ctx, nil)
	if err != nil {
		t.Fatalf("first backup failed: %v", err)
	}
	if first.Destination != "local" || first.PathOrKey != dest.Path(first.Name+ArtifactExt) {
		t.Fatalf("unexpected artifact %+v", first)
	}

	if err := mgr.Restore(ctx, first.PathOrKey, nil); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if tool.applied != 1 || string(tool.state) != "dataset rows" {
		t.Fatalf("restore did not apply dump: %q", tool.state)
	}

	second, err := mgr.Backup(ctx, nil)
	if err != nil {
		t.Fatalf("second backup failed: %v", err)
	}
	if second.SizeBytes != first.SizeBytes {
		t.Fatalf("expected equal sizes, got %d and %d", first.SizeBytes, second.SizeBytes)
	}
	if second.Name == first.Name {
		t.Fatalf("expected distinct names, both %s", first.Name)
	}

	latest, err := mgr.Latest(ctx)
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if latest.Name != second.Name {
		t.Fatalf("expected latest %s, got %s", second.Name, latest.Name)
	}

	ops, err := mgr.Operations(ctx, 10)
	if err != nil {
		t.Fatalf("operations failed: %v", err)
	}
	counts := countStates(ops)
	if len(ops) != 3 || counts[models.OperationStored] != 2 || counts[models.OperationApplied] != 1 {
		t.Fatalf("unexpected operations %+v", ops)
	}
}

func TestBackupRemoteUsesStaging(t *testing.T) {
	ctx := context.Background()
	dest := newMemDest()
	tool := &fakeTool{state: []byte("remote rows")}
	mgr, cfg := newTestManager(t, dest, tool)

	artifact, err := mgr.Backup(ctx, nil)
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}
	if !bytes.Equal(dest.files[artifact.Name+ArtifactExt], []byte("remote rows")) {
		t.Fatalf("artifact not uploaded")
	}
	if artifact.PathOrKey != "mem://"+artifact.Name+ArtifactExt {
		t.Fatalf("unexpected location %s", artifact.PathOrKey)
	}

	tool.state = nil
	if err := mgr.Restore(ctx, artifact.PathOrKey, nil); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if string(tool.state) != "remote rows" {
		t.Fatalf("unexpected restored state %q", tool.state)
	}

	entries, _ := os.ReadDir(filepath.Join(cfg.Storage.TempDir, "backups"))
	if len(entries) != 0 {
		t.Fatalf("expected staging dir to be empty, found %d entries", len(entries))
	}
}

func TestRestoreMissingArtifact(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, newMemDest(), &fakeTool{})

	err := mgr.Restore(ctx, "pma-api-backup-linux-test-20240102030405", nil)
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := mgr.Restore(ctx, "not-a-backup", nil); !errors.Is(err, ErrInvalidArtifactName) {
		t.Fatalf("expected invalid name, got %v", err)
	}

	ops, _ := mgr.Operations(ctx, 10)
	if len(ops) != 1 || ops[0].State != models.OperationFailed {
		t.Fatalf("expected one failed operation, got %+v", ops)
	}
}

func TestBackupToolFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	dest := NewLocalDestination(filepath.Join(t.TempDir(), "backups"))
	tool := &fakeTool{dumpErr: &ExternalToolFailure{Op: "backup", CorrelationID: "abc-123", Stderr: "disk full"}}
	mgr, _ := newTestManager(t, dest, tool)

	if _, err := mgr.Backup(ctx, nil); !errors.Is(err, ErrExternalTool) {
		t.Fatalf("expected tool failure, got %v", err)
	}

	files, _ := dest.List(ctx)
	if len(files) != 0 {
		t.Fatalf("expected partial dump to be removed, found %+v", files)
	}

	ops, _ := mgr.Operations(ctx, 10)
	if len(ops) != 1 || ops[0].State != models.OperationFailed || ops[0].CorrelationID != "abc-123" {
		t.Fatalf("unexpected operations %+v", ops)
	}
}

func TestListIgnoresForeignFiles(t *testing.T) {
	ctx := context.Background()
	dest := newMemDest()
	dest.files["notes.txt"] = []byte("x")
	dest.files["random.dump"] = []byte("x")
	mgr, _ := newTestManager(t, dest, &fakeTool{state: []byte("a")})

	if _, err := mgr.Backup(ctx, nil); err != nil {
		t.Fatalf("backup failed: %v", err)
	}

	artifacts, err := mgr.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %+v", artifacts)
	}
}

func TestRetentionEnforce(t *testing.T) {
	ctx := context.Background()
	dest := newMemDest()
	mgr, _ := newTestManager(t, dest, &fakeTool{state: []byte("0123456789")})

	var names []string
	for i := 0; i < 5; i++ {
		artifact, err := mgr.Backup(ctx, nil)
		if err != nil {
			t.Fatalf("backup %d failed: %v", i, err)
		}
		names = append(names, artifact.Name)
	}

	rm := NewRetentionManager(mgr)
	stats, err := rm.Stats(ctx, 2)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalBackups != 5 || stats.BackupsToDelete != 3 || stats.WillDeleteBytes != 30 || stats.TotalSizeBytes != 50 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	deleted, err := rm.Enforce(ctx, 2)
	if err != nil {
		t.Fatalf("enforce failed: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deletions, got %d", deleted)
	}

	remaining, _ := mgr.List(ctx)
	if len(remaining) != 2 || remaining[0].Name != names[4] || remaining[1].Name != names[3] {
		t.Fatalf("unexpected remaining artifacts %+v", remaining)
	}

	if n, _ := rm.Enforce(ctx, 0); n != 0 {
		t.Fatalf("keep=0 must not delete, deleted %d", n)
	}
}

func TestRetentionIgnoresOtherEnvironments(t *testing.T) {
	ctx := context.Background()
	dest := newMemDest()
	mgr, _ := newTestManager(t, dest, &fakeTool{state: []byte("test")})

	prodCfg := config.Default()
	prodCfg.Server.Environment = config.EnvProduction
	prodCfg.Backup.OSTag = "linux"
	prodCfg.Storage.TempDir = filepath.Join(t.TempDir(), "tmp")
	prod := NewManager(nil, dest, &fakeTool{state: []byte("prod")}, nil, prodCfg)
	prodClock := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	prod.SetClock(func() time.Time {
		prodClock = prodClock.Add(time.Minute)
		return prodClock
	})

	var prodNames []string
	for i := 0; i < 2; i++ {
		artifact, err := prod.Backup(ctx, nil)
		if err != nil {
			t.Fatalf("production backup failed: %v", err)
		}
		prodNames = append(prodNames, artifact.Name)
	}
	var newest string
	for i := 0; i < 3; i++ {
		artifact, err := mgr.Backup(ctx, nil)
		if err != nil {
			t.Fatalf("test backup failed: %v", err)
		}
		newest = artifact.Name
	}

	rm := NewRetentionManager(mgr)
	stats, err := rm.Stats(ctx, 1)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalBackups != 3 || stats.BackupsToDelete != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	deleted, err := rm.Enforce(ctx, 1)
	if err != nil || deleted != 2 {
		t.Fatalf("expected 2 deletions, got %d (%v)", deleted, err)
	}

	for _, name := range append(prodNames, newest) {
		if _, ok := dest.files[name+ArtifactExt]; !ok {
			t.Fatalf("expected %s to survive retention, have %d files", name, len(dest.files))
		}
	}
	if len(dest.files) != 3 {
		t.Fatalf("expected 3 artifacts left, found %d", len(dest.files))
	}
}

func TestBackupStagesThroughWriter(t *testing.T) {
	ctx := context.Background()
	memFs := afero.NewMemMapFs()
	dest := newMemDest()
	tool := &fakeTool{state: []byte("staged rows"), fs: memFs}
	mgr, cfg := newTestManager(t, dest, tool)

	artifact, err := mgr.Backup(ctx, nil)
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}
	if string(dest.files[artifact.Name+ArtifactExt]) != "staged rows" {
		t.Fatalf("artifact not uploaded from the staging filesystem")
	}

	stagingDir := filepath.Join(cfg.Storage.TempDir, "backups")
	if ok, _ := afero.DirExists(memFs, stagingDir); !ok {
		t.Fatalf("expected staging dir on the writer filesystem")
	}
	if _, err := os.Stat(stagingDir); !os.IsNotExist(err) {
		t.Fatalf("expected no staging dir on disk, got %v", err)
	}
	entries, _ := afero.ReadDir(memFs, stagingDir)
	if len(entries) != 0 {
		t.Fatalf("expected staged dump to be removed, found %d entries", len(entries))
	}

	tool.state = nil
	if err := mgr.Restore(ctx, artifact.Name, nil); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if string(tool.state) != "staged rows" {
		t.Fatalf("unexpected restored state %q", tool.state)
	}
}

type inlineSubmitter struct {
	kinds  []string
	result string
}

func (s *inlineSubmitter) Submit(ctx context.Context, kind string, job tasks.Job) (string, error) {
	s.kinds = append(s.kinds, kind)
	result, err := job(ctx, nil)
	if err != nil {
		return "", err
	}
	s.result = result
	return "task-1", nil
}

func TestScheduleRunner(t *testing.T) {
	ctx := context.Background()
	dest := newMemDest()
	mgr, _ := newTestManager(t, dest, &fakeTool{state: []byte("s")})
	rm := NewRetentionManager(mgr)

	runner := NewScheduleRunner("0 30 2 * * *", 1, mgr, rm, nil)
	from := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	next, err := runner.NextRun(from)
	if err != nil {
		t.Fatalf("next run failed: %v", err)
	}
	if want := time.Date(2024, 6, 2, 2, 30, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}

	for i := 0; i < 2; i++ {
		if _, err := runner.execute(ctx, nil); err != nil {
			t.Fatalf("execute failed: %v", err)
		}
	}
	if len(dest.files) != 1 {
		t.Fatalf("expected retention to keep 1 artifact, found %d", len(dest.files))
	}

	queue := &inlineSubmitter{}
	NewScheduleRunner("@daily", 1, mgr, rm, queue).runOnce(ctx)
	if len(queue.kinds) != 1 || queue.kinds[0] != "scheduled_backup" || queue.result == "" {
		t.Fatalf("expected scheduled backup to be queued, got %+v", queue)
	}

	if err := NewScheduleRunner("not a schedule", 0, mgr, rm, nil).Start(ctx); err == nil {
		t.Fatalf("expected invalid schedule to be rejected")
	}
	if err := NewScheduleRunner("", 0, mgr, rm, nil).Start(ctx); err != nil {
		t.Fatalf("empty schedule should disable scheduling: %v", err)
	}
}
