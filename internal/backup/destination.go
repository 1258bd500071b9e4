package backup

import (
	"context"
	"fmt"
	"io"

	"github.com/pma2020/pma-api/internal/config"
)

// Destination is where backup artifacts are kept
type Destination interface {
	// Upload stores reader under filename
	Upload(ctx context.Context, filename string, reader io.Reader, sizeBytes int64) error

	// Download writes the stored file into w and returns the byte count
	Download(ctx context.Context, filename string, w io.WriterAt) (int64, error)

	// Delete removes a stored file
	Delete(ctx context.Context, filename string) error

	// List returns all stored files
	List(ctx context.Context) ([]BackupFile, error)

	// Location is the path or key a file is stored under
	Location(filename string) string

	// GetType returns the destination type identifier
	GetType() string

	Close() error
}

// BackupFile represents a file in a backup destination
type BackupFile struct {
	Filename  string
	SizeBytes int64
	CreatedAt int64 // Unix timestamp
}

// NewDestination creates the destination described by cfg
func NewDestination(cfg config.DestinationConfig) (Destination, error) {
	switch cfg.Type {
	case "local":
		return NewLocalDestination(cfg.Path), nil
	case "sftp":
		return NewSFTPDestination(cfg), nil
	case "s3":
		return NewS3Destination(cfg)
	default:
		return nil, fmt.Errorf("unsupported destination type: %s", cfg.Type)
	}
}
