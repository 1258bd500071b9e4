// Package dataset ingests survey data files into the relational store and
// writes stored versions back to disk.
package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pma2020/pma-api/internal/config"
	"github.com/pma2020/pma-api/internal/database"
	"github.com/pma2020/pma-api/internal/metrics"
	"github.com/pma2020/pma-api/internal/models"
	"github.com/pma2020/pma-api/internal/storage"
	"github.com/pma2020/pma-api/internal/tasks"
)

// materializedDateLayout is the upload date as it appears in file names
const materializedDateLayout = "2006-01-02-150405"

var versionToken = regexp.MustCompile(`(?i)-v(\d+)(?:[-_.]|$)`)

// Service implements dataset upload and materialization
type Service struct {
	db     *sql.DB
	repo   *Repository
	writer *storage.Writer

	extensions []string
	defaultExt string
	author     string
	tempDir    string
	dataDir    string

	now func() time.Time
}

func NewService(db *sql.DB, writer *storage.Writer, cfg *config.Config) *Service {
	author := cfg.Datasets.AuthorPlaceholder
	if author == "" {
		author = "unk"
	}

	extensions := make([]string, 0, len(cfg.Datasets.AcceptedExtensions))
	for _, ext := range cfg.Datasets.AcceptedExtensions {
		extensions = append(extensions, normalizeExt(ext))
	}

	return &Service{
		db:         db,
		repo:       NewRepository(db),
		writer:     writer,
		extensions: extensions,
		defaultExt: normalizeExt(cfg.Datasets.DefaultExtension),
		author:     author,
		tempDir:    cfg.Storage.TempDir,
		dataDir:    cfg.Storage.DataDir,
		now:        time.Now,
	}
}

// SetClock replaces the time source used for upload dates
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Upload stages src in a uniquely named file under the temp dir, stores it
// as a new dataset version and returns the new row id. The staged file is
// removed on every path.
func (s *Service) Upload(ctx context.Context, name string, src io.Reader, sink tasks.Sink) (int64, error) {
	name = strings.TrimSpace(filepath.Base(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return 0, ErrInvalidName
	}

	filename := s.withExtension(name)
	tasks.Emit(ctx, sink, "Staging "+filename, 10, 100)

	// Concurrent uploads of the same name each get their own staged file
	tempPath, size, err := s.writer.SaveTemp(src, s.tempDir, "*-"+filename)
	if err != nil {
		if errors.Is(err, storage.ErrEmptyPayload) {
			metrics.DatasetUploads.WithLabelValues("empty").Inc()
		} else {
			metrics.DatasetUploads.WithLabelValues("error").Inc()
		}
		return 0, err
	}
	defer func() {
		if err := s.writer.Remove(tempPath); err != nil {
			log.Printf("[Datasets] Failed to remove staged file %s: %v", tempPath, err)
		}
	}()

	payload, err := s.writer.ReadFile(tempPath)
	if err != nil {
		metrics.DatasetUploads.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to read staged dataset: %w", err)
	}

	tasks.Emit(ctx, sink, "Storing "+filename, 50, 100)

	d := &models.Dataset{
		DisplayName: filename,
		UploadDate:  s.now().UTC().Truncate(time.Second),
		Payload:     payload,
	}

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		version, ok := parseVersion(filename)
		if !ok {
			next, err := s.repo.nextVersion(ctx, tx)
			if err != nil {
				return err
			}
			version = next
		}
		d.VersionNumber = version

		id, err := s.repo.insert(ctx, tx, d)
		if err != nil {
			return err
		}
		d.ID = id
		return nil
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			metrics.DatasetUploads.WithLabelValues("duplicate").Inc()
			return 0, &DuplicateDatasetError{Name: filename}
		}
		metrics.DatasetUploads.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to store dataset %s: %w", filename, err)
	}

	metrics.DatasetUploads.WithLabelValues("ok").Inc()
	metrics.DatasetUploadBytes.Observe(float64(size))
	log.Printf("[Datasets] Stored %s as id=%d version=%d (%d bytes)", filename, d.ID, d.VersionNumber, size)

	tasks.Emit(ctx, sink, "Stored "+filename, 90, 100)
	return d.ID, nil
}

// Materialize writes the payload of dataset id into targetDir and returns the
// file path. An existing file with the same name is replaced.
func (s *Service) Materialize(ctx context.Context, id int64, targetDir string) (string, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		metrics.DatasetMaterializations.WithLabelValues("error").Inc()
		return "", err
	}

	if targetDir == "" {
		targetDir = s.dataDir
	}
	path := filepath.Join(targetDir, MaterializedName(d, s.author))

	if err := s.writer.ReplaceAtomic(d.Payload, path); err != nil {
		metrics.DatasetMaterializations.WithLabelValues("error").Inc()
		return "", err
	}

	metrics.DatasetMaterializations.WithLabelValues("ok").Inc()
	return path, nil
}

// LoadLocal materializes dataset id into the data dir and opens it
func (s *Service) LoadLocal(ctx context.Context, id int64) (io.ReadCloser, error) {
	path, err := s.Materialize(ctx, id, s.dataDir)
	if err != nil {
		return nil, err
	}
	return s.writer.Open(path)
}

// Get returns dataset id including its payload
func (s *Service) Get(ctx context.Context, id int64) (*models.Dataset, error) {
	d, err := s.repo.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &DatasetNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %d: %w", id, err)
	}
	return d, nil
}

// List returns metadata of all datasets, newest first
func (s *Service) List(ctx context.Context) ([]models.DatasetInfo, error) {
	return s.repo.List(ctx)
}

// IsEmpty reports whether no dataset has been stored yet
func (s *Service) IsEmpty(ctx context.Context) (bool, error) {
	count, err := s.repo.Count(ctx)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// MaterializedName is api_data-<upload date>-v<version>-<author>.xlsx
func MaterializedName(d *models.Dataset, author string) string {
	return strings.Join([]string{
		"api_data",
		d.UploadDate.UTC().Format(materializedDateLayout),
		"v" + strconv.Itoa(d.VersionNumber),
		author,
	}, "-") + ".xlsx"
}

func (s *Service) withExtension(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range s.extensions {
		if strings.HasSuffix(lower, ext) {
			return name
		}
	}
	return name + s.defaultExt
}

func parseVersion(name string) (int, bool) {
	matches := versionToken.FindAllStringSubmatch(name, -1)
	if len(matches) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ".xlsx"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
