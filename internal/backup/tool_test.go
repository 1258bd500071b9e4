package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pma2020/pma-api/internal/config"
	"github.com/pma2020/pma-api/internal/logging"
)

func newCustomTool(t *testing.T, dump, restore []string) (*ExecTool, *logging.ErrorLog) {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "pma.db")
	cfg.Backup.Tool = config.ToolConfig{Preset: "custom", DumpArgs: dump, RestoreArgs: restore}

	errs, err := logging.NewErrorLog(filepath.Join(t.TempDir(), "logs", "error.log"), "")
	if err != nil {
		t.Fatalf("failed to create error log: %v", err)
	}

	tool, err := NewExecTool(cfg, errs)
	if err != nil {
		t.Fatalf("failed to create tool: %v", err)
	}
	return tool, errs
}

func TestExecToolSuccess(t *testing.T) {
	source := filepath.Join(t.TempDir(), "source.db")
	if err := os.WriteFile(source, []byte("rows"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	tool, _ := newCustomTool(t, []string{"cp", source, "{path}"}, []string{"cp", "{path}", source})

	target := filepath.Join(t.TempDir(), "out.dump")
	if err := tool.Dump(context.Background(), target); err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "rows" {
		t.Fatalf("unexpected dump content %q", data)
	}
}

func TestExecToolStderrIsFailure(t *testing.T) {
	tool, errs := newCustomTool(t, []string{"sh", "-c", "echo warn >&2"}, []string{"true"})

	err := tool.Dump(context.Background(), filepath.Join(t.TempDir(), "out.dump"))
	if !errors.Is(err, ErrExternalTool) {
		t.Fatalf("expected external tool failure, got %v", err)
	}

	var failure *ExternalToolFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *ExternalToolFailure, got %T", err)
	}
	if failure.CorrelationID == "" || failure.LogPath != errs.Path() {
		t.Fatalf("expected correlation id and log path, got %+v", failure)
	}

	logged, readErr := os.ReadFile(errs.Path())
	if readErr != nil {
		t.Fatalf("error log not written: %v", readErr)
	}
	if !strings.Contains(string(logged), failure.CorrelationID) || !strings.Contains(string(logged), "warn") {
		t.Fatalf("error log missing entry: %s", logged)
	}
	if !strings.Contains(err.Error(), failure.CorrelationID) {
		t.Fatalf("expected message to reference correlation id: %v", err)
	}
}

func TestExecToolExitCodeIsFailure(t *testing.T) {
	tool, _ := newCustomTool(t, []string{"true"}, []string{"sh", "-c", "exit 3"})

	err := tool.Apply(context.Background(), filepath.Join(t.TempDir(), "in.dump"))
	var failure *ExternalToolFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *ExternalToolFailure, got %v", err)
	}
	if failure.Op != "restore" || failure.CorrelationID == "" {
		t.Fatalf("unexpected failure %+v", failure)
	}
}

func TestNewExecToolPresets(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = "/srv/pma/pma.db"

	cfg.Backup.Tool.Preset = "sqlite"
	tool, err := NewExecTool(cfg, nil)
	if err != nil {
		t.Fatalf("sqlite preset failed: %v", err)
	}
	argv := expandArgs(tool.dumpArgs, map[string]string{"{path}": "/tmp/x.dump", "{database}": tool.database})
	if argv[1] != "/srv/pma/pma.db" || argv[2] != ".backup '/tmp/x.dump'" {
		t.Fatalf("unexpected sqlite argv %v", argv)
	}

	cfg.Backup.Tool.Preset = "oracle"
	if _, err := NewExecTool(cfg, nil); err == nil {
		t.Fatalf("expected unknown preset to be rejected")
	}

	cfg.Backup.Tool = config.ToolConfig{Preset: "custom"}
	if _, err := NewExecTool(cfg, nil); err == nil {
		t.Fatalf("expected custom preset without args to be rejected")
	}
}
