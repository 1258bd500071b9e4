package storage

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

// missingDirFs fails every OpenFile with fs.ErrNotExist and counts calls.
type missingDirFs struct {
	afero.Fs
	opens  int
	mkdirs int
}

func (m *missingDirFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	m.opens++
	return nil, &os.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

func (m *missingDirFs) MkdirAll(path string, perm os.FileMode) error {
	m.mkdirs++
	return nil
}

func TestSavePayloadCreatesMissingParent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "missing", "payload.bin")
	w := NewWriter(afero.NewOsFs())

	if err := w.SavePayload([]byte("survey-bytes"), path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	info, err := os.Stat(filepath.Dir(path))
	if err != nil || !info.IsDir() {
		t.Fatalf("expected parent directory to exist: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read back: %v", err)
	}
	if string(data) != "survey-bytes" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestSavePayloadGivesUpAfterTwoAttempts(t *testing.T) {
	fsys := &missingDirFs{Fs: afero.NewMemMapFs()}
	w := NewWriter(fsys)

	err := w.SavePayload([]byte("x"), "/nowhere/payload.bin")
	if !errors.Is(err, ErrIOFault) {
		t.Fatalf("expected io fault, got %v", err)
	}

	var fault *IOFault
	if !errors.As(err, &fault) {
		t.Fatalf("expected *IOFault, got %T", err)
	}
	if fault.Attempts != MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", MaxAttempts, fault.Attempts)
	}
	if fsys.opens != MaxAttempts {
		t.Fatalf("expected %d open calls, got %d", MaxAttempts, fsys.opens)
	}
	if fsys.mkdirs != 1 {
		t.Fatalf("expected exactly one directory creation, got %d", fsys.mkdirs)
	}
}

func TestSaveReaderBuffersNonSeekableInput(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a", "b", "c.bin")
	w := NewWriter(nil)

	n, err := w.SaveReader(onlyReader{strings.NewReader("streamed")}, path)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if n != int64(len("streamed")) {
		t.Fatalf("expected %d bytes, got %d", len("streamed"), n)
	}
}

type onlyReader struct {
	r interface{ Read([]byte) (int, error) }
}

func (o onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }

func TestSaveNonEmptyRejectsZeroBytes(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "empty.xlsx")
	w := NewWriter(nil)

	_, err := w.SaveNonEmpty(bytes.NewReader(nil), path)
	if !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected empty payload error, got %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("expected empty file to be removed")
	}
}

func TestReplaceAtomicOverwritesExisting(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "out.xlsx")
	w := NewWriter(nil)

	if err := w.SavePayload([]byte("old"), path); err != nil {
		t.Fatalf("initial save failed: %v", err)
	}
	if err := w.ReplaceAtomic([]byte("new"), path); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "new" {
		t.Fatalf("expected new content, got %q", data)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp file to be renamed away, found %d entries", len(entries))
	}
}

func TestRemoveMissingIsNotAnError(t *testing.T) {
	w := NewWriter(afero.NewMemMapFs())
	if err := w.Remove("/does/not/exist"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestSaveTempUsesDistinctFiles(t *testing.T) {
	w := NewWriter(afero.NewMemMapFs())

	first, _, err := w.SaveTemp(strings.NewReader("a"), "/tmp/uploads", "*-data.xlsx")
	if err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	second, _, err := w.SaveTemp(strings.NewReader("b"), "/tmp/uploads", "*-data.xlsx")
	if err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct paths, both were %s", first)
	}
	if !strings.HasSuffix(first, "-data.xlsx") {
		t.Fatalf("unexpected temp name %s", first)
	}

	data, _ := w.ReadFile(first)
	if string(data) != "a" {
		t.Fatalf("first payload overwritten: %q", data)
	}

	if _, _, err := w.SaveTemp(strings.NewReader(""), "/tmp/uploads", "*-data.xlsx"); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected empty payload error, got %v", err)
	}
	entries, _ := afero.ReadDir(w.Fs(), "/tmp/uploads")
	if len(entries) != 2 {
		t.Fatalf("expected empty temp file to be removed, found %d entries", len(entries))
	}
}
