// Package storage persists binary payloads to a filesystem path. It knows
// nothing about datasets or backups.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// MaxAttempts bounds how many times a write is tried. The second attempt
// only happens after the missing parent directory was created.
const MaxAttempts = 2

var (
	// ErrIOFault is matched by every *IOFault
	ErrIOFault = errors.New("io fault")
	// ErrEmptyPayload is returned when a staged payload has zero bytes
	ErrEmptyPayload = errors.New("payload is empty")
)

// IOFault is a write failure that persisted after the bounded retry.
type IOFault struct {
	Path     string
	Attempts int
	Err      error
}

func (e *IOFault) Error() string {
	return fmt.Sprintf("failed to save %s after %d attempt(s): %v", e.Path, e.Attempts, e.Err)
}

func (e *IOFault) Unwrap() error { return e.Err }

func (e *IOFault) Is(target error) bool { return target == ErrIOFault }

// Writer saves payloads through an afero filesystem.
type Writer struct {
	fs          afero.Fs
	maxAttempts int
}

// NewWriter creates a writer on fsys. A nil fsys means the OS filesystem.
func NewWriter(fsys afero.Fs) *Writer {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Writer{fs: fsys, maxAttempts: MaxAttempts}
}

// Fs returns the underlying filesystem
func (w *Writer) Fs() afero.Fs {
	return w.fs
}

// SavePayload writes data to path, creating the parent directory if needed.
func (w *Writer) SavePayload(data []byte, path string) error {
	_, err := w.SaveReader(bytes.NewReader(data), path)
	return err
}

// SaveReader streams r to path and returns the number of bytes written.
// The reader must be seekable for a retry to resend the same bytes; a
// non-seekable reader is buffered first.
func (w *Writer) SaveReader(r io.Reader, path string) (int64, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return 0, fmt.Errorf("failed to read payload: %w", err)
		}
		rs = bytes.NewReader(data)
	}

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return 0, fmt.Errorf("failed to rewind payload: %w", err)
		}

		n, err := w.writeOnce(rs, path)
		if err == nil {
			return n, nil
		}
		lastErr = err

		if !errors.Is(err, fs.ErrNotExist) || attempt == w.maxAttempts {
			return 0, &IOFault{Path: path, Attempts: attempt, Err: err}
		}

		if mkErr := w.fs.MkdirAll(filepath.Dir(path), 0755); mkErr != nil {
			return 0, &IOFault{Path: path, Attempts: attempt, Err: mkErr}
		}
	}

	return 0, &IOFault{Path: path, Attempts: w.maxAttempts, Err: lastErr}
}

// SaveNonEmpty is SaveReader that rejects (and removes) a zero-byte result.
func (w *Writer) SaveNonEmpty(r io.Reader, path string) (int64, error) {
	n, err := w.SaveReader(r, path)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		w.fs.Remove(path)
		return 0, fmt.Errorf("file saved, but was 0 bytes (path: %s): %w", path, ErrEmptyPayload)
	}
	return n, nil
}

// ReplaceAtomic writes data next to path and renames it into place, so a
// crash leaves either the previous file or the new one.
func (w *Writer) ReplaceAtomic(data []byte, path string) error {
	tmp := fmt.Sprintf("%s.tmp-%s", path, uuid.New().String()[:8])
	if err := w.SavePayload(data, tmp); err != nil {
		return err
	}

	if err := w.fs.Rename(tmp, path); err != nil {
		w.fs.Remove(tmp)
		return &IOFault{Path: path, Attempts: 1, Err: err}
	}
	return nil
}

// SaveTemp streams r into a new file in dir whose name matches pattern, as
// in afero.TempFile, and returns its path. Concurrent callers never share a
// file. Zero-byte payloads are rejected like SaveNonEmpty. The caller
// removes the file.
func (w *Writer) SaveTemp(r io.Reader, dir, pattern string) (string, int64, error) {
	if err := w.MkdirAll(dir); err != nil {
		return "", 0, err
	}
	f, err := afero.TempFile(w.fs, dir, pattern)
	if err != nil {
		return "", 0, &IOFault{Path: filepath.Join(dir, pattern), Attempts: 1, Err: err}
	}
	path := f.Name()
	f.Close()

	n, err := w.SaveNonEmpty(r, path)
	if err != nil {
		w.fs.Remove(path)
		return "", 0, err
	}
	return path, n, nil
}

// MkdirAll creates dir and any missing parents
func (w *Writer) MkdirAll(dir string) error {
	if err := w.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// Create creates or truncates path for writing
func (w *Writer) Create(path string) (afero.File, error) {
	return w.fs.Create(path)
}

// Remove deletes path; a missing file is not an error.
func (w *Writer) Remove(path string) error {
	if err := w.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path exists
func (w *Writer) Exists(path string) bool {
	ok, err := afero.Exists(w.fs, path)
	return err == nil && ok
}

// Open opens path for reading
func (w *Writer) Open(path string) (afero.File, error) {
	return w.fs.Open(path)
}

// ReadFile reads the whole file at path
func (w *Writer) ReadFile(path string) ([]byte, error) {
	return afero.ReadFile(w.fs, path)
}

// Size returns the size of the file at path
func (w *Writer) Size(path string) (int64, error) {
	info, err := w.fs.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (w *Writer) writeOnce(r io.Reader, path string) (int64, error) {
	f, err := w.fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}
