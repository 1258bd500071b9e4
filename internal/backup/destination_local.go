package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
)

// LocalDestination stores backups on the local filesystem. The manager dumps
// straight into Path(filename) instead of going through Upload.
type LocalDestination struct {
	basePath string
}

// NewLocalDestination creates a new local destination
func NewLocalDestination(basePath string) *LocalDestination {
	return &LocalDestination{
		basePath: basePath,
	}
}

// Upload copies a backup file to the local destination
func (ld *LocalDestination) Upload(ctx context.Context, filename string, reader io.Reader, sizeBytes int64) error {
	if err := os.MkdirAll(ld.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	destPath := ld.Path(filename)
	log.Printf("[LocalDest] Writing %s (%d bytes)", destPath, sizeBytes)

	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}

	written, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to write backup file: %w", err)
	}

	if sizeBytes >= 0 && written != sizeBytes {
		os.Remove(destPath)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}

	return nil
}

// Download reads a backup file from the local destination
func (ld *LocalDestination) Download(ctx context.Context, filename string, w io.WriterAt) (int64, error) {
	file, err := os.Open(ld.Path(filename))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, &ArtifactNotFoundError{Name: filename, Destination: ld.GetType()}
		}
		return 0, fmt.Errorf("failed to open backup file: %w", err)
	}
	defer file.Close()

	n, err := io.Copy(io.NewOffsetWriter(w, 0), file)
	if err != nil {
		return n, fmt.Errorf("failed to read backup file: %w", err)
	}
	return n, nil
}

// Delete removes a backup file from the local destination
func (ld *LocalDestination) Delete(ctx context.Context, filename string) error {
	destPath := ld.Path(filename)
	log.Printf("[LocalDest] Deleting %s", destPath)

	if err := os.Remove(destPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &ArtifactNotFoundError{Name: filename, Destination: ld.GetType()}
		}
		return fmt.Errorf("failed to delete backup file: %w", err)
	}
	return nil
}

// List returns all backup files in the local destination
func (ld *LocalDestination) List(ctx context.Context) ([]BackupFile, error) {
	if err := os.MkdirAll(ld.basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to access backup directory: %w", err)
	}

	entries, err := os.ReadDir(ld.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var files []BackupFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Printf("[LocalDest] Warning: Failed to get info for %s: %v", entry.Name(), err)
			continue
		}

		files = append(files, BackupFile{
			Filename:  entry.Name(),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().Unix(),
		})
	}

	return files, nil
}

func (ld *LocalDestination) Location(filename string) string {
	return ld.Path(filename)
}

// GetType returns the destination type
func (ld *LocalDestination) GetType() string {
	return "local"
}

func (ld *LocalDestination) Close() error {
	return nil
}

// Path returns the absolute location of filename
func (ld *LocalDestination) Path(filename string) string {
	return filepath.Join(ld.basePath, filename)
}

// Exists checks if a backup file exists
func (ld *LocalDestination) Exists(filename string) bool {
	_, err := os.Stat(ld.Path(filename))
	return err == nil
}
