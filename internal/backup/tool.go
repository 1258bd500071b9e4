package backup

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"

	"github.com/pma2020/pma-api/internal/config"
	"github.com/pma2020/pma-api/internal/logging"
)

// Tool produces and applies dump files of the data store
type Tool interface {
	Dump(ctx context.Context, path string) error
	Apply(ctx context.Context, path string) error
}

// ErrorRecorder stores captured tool output under a correlation id
type ErrorRecorder interface {
	Record(context, raw string) (logging.Entry, error)
	Path() string
}

// ExecTool runs an external command for each operation. Argument templates
// may use {path} for the dump file and {database} for the target database.
type ExecTool struct {
	dumpArgs    []string
	restoreArgs []string
	database    string
	errors      ErrorRecorder
}

var presets = map[string]struct{ dump, restore []string }{
	"sqlite": {
		dump:    []string{"sqlite3", "{database}", ".backup '{path}'"},
		restore: []string{"sqlite3", "{database}", ".restore '{path}'"},
	},
	"postgres": {
		dump:    []string{"pg_dump", "--format=custom", "--no-owner", "--dbname={database}", "--file={path}"},
		restore: []string{"pg_restore", "--clean", "--if-exists", "--no-owner", "--dbname={database}", "{path}"},
	},
}

// NewExecTool builds the tool selected by cfg.Backup.Tool. The sqlite preset
// targets the configured database file unless a database_url is set.
func NewExecTool(cfg *config.Config, errs ErrorRecorder) (*ExecTool, error) {
	toolCfg := cfg.Backup.Tool

	database := toolCfg.DatabaseURL
	if database == "" {
		database = cfg.Database.Path
	}

	tool := &ExecTool{database: database, errors: errs}
	switch toolCfg.Preset {
	case "custom":
		tool.dumpArgs = toolCfg.DumpArgs
		tool.restoreArgs = toolCfg.RestoreArgs
	default:
		preset, ok := presets[toolCfg.Preset]
		if !ok {
			return nil, fmt.Errorf("unsupported backup tool preset: %s", toolCfg.Preset)
		}
		tool.dumpArgs = preset.dump
		tool.restoreArgs = preset.restore
	}

	if len(tool.dumpArgs) == 0 || len(tool.restoreArgs) == 0 {
		return nil, fmt.Errorf("backup tool %s has no command", toolCfg.Preset)
	}
	return tool, nil
}

func (t *ExecTool) Dump(ctx context.Context, path string) error {
	return t.run(ctx, "backup", t.dumpArgs, path)
}

func (t *ExecTool) Apply(ctx context.Context, path string) error {
	return t.run(ctx, "restore", t.restoreArgs, path)
}

func (t *ExecTool) run(ctx context.Context, op string, template []string, path string) error {
	argv := expandArgs(template, map[string]string{"{path}": path, "{database}": t.database})
	log.Printf("[BackupTool] Running %s: %s", op, argv[0])

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	captured := stderr.String()
	if runErr == nil && strings.TrimSpace(captured) == "" {
		return nil
	}

	failure := &ExternalToolFailure{Op: op, Stderr: captured, Err: runErr}
	raw := captured
	if strings.TrimSpace(raw) == "" {
		raw = runErr.Error()
	}

	if t.errors != nil {
		entry, err := t.errors.Record(op+": "+strings.Join(argv, " "), raw)
		if err != nil {
			log.Printf("[BackupTool] Failed to record %s error: %v", op, err)
		}
		failure.CorrelationID = entry.ID
		failure.LogPath = t.errors.Path()
	}

	return failure
}

func expandArgs(template []string, vars map[string]string) []string {
	out := make([]string, len(template))
	for i, arg := range template {
		for key, value := range vars {
			arg = strings.ReplaceAll(arg, key, value)
		}
		out[i] = arg
	}
	return out
}
