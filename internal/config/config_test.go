package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveConfigPathPrefersParentConfigs(t *testing.T) {
	root := t.TempDir()
	configsDir := filepath.Join(root, "configs")
	if err := os.MkdirAll(configsDir, 0755); err != nil {
		t.Fatalf("failed to create configs dir: %v", err)
	}
	configPath := filepath.Join(configsDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  host: 0.0.0.0\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	apiDir := filepath.Join(root, "api")
	if err := os.MkdirAll(apiDir, 0755); err != nil {
		t.Fatalf("failed to create api dir: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get cwd: %v", err)
	}
	defer func() {
		_ = os.Chdir(cwd)
	}()

	if err := os.Chdir(apiDir); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}

	resolved := resolveConfigPath()
	if resolved != "../configs/config.yaml" {
		t.Fatalf("expected ../configs/config.yaml, got %s", resolved)
	}
}

func TestNormalizeStoragePathsDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Backup.Destination.Type = "local"
	cfg.normalizeStoragePaths("configs/config.yaml")

	if cfg.Storage.DataDir == "" {
		t.Fatalf("expected DataDir to be set")
	}
	if cfg.Storage.TempDir != filepath.Join(cfg.Storage.DataDir, "tmp") {
		t.Fatalf("expected TempDir under DataDir, got %s", cfg.Storage.TempDir)
	}
	if cfg.Backup.Destination.Path != cfg.Storage.BackupDir {
		t.Fatalf("expected local destination to default to BackupDir, got %s", cfg.Backup.Destination.Path)
	}
	if cfg.Logging.ErrorLog != filepath.Join(cfg.Storage.LogsDir, "error.log") {
		t.Fatalf("unexpected error log path: %s", cfg.Logging.ErrorLog)
	}
	if !filepath.IsAbs(cfg.Server.PIDFile) {
		t.Fatalf("expected absolute pid file path, got %s", cfg.Server.PIDFile)
	}
}

func TestNormalizeStoragePathsS3DefaultsPrefix(t *testing.T) {
	cfg := Default()
	cfg.Backup.Destination.Type = "s3"
	cfg.Backup.Destination.Path = ""
	cfg.normalizeStoragePaths("configs/config.yaml")

	if cfg.Backup.Destination.Path != "backups" {
		t.Fatalf("expected s3 prefix backups, got %s", cfg.Backup.Destination.Path)
	}
}

func TestLoadAppliesFileAndEnv(t *testing.T) {
	root := t.TempDir()
	configPath := filepath.Join(root, "configs", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		t.Fatalf("failed to create configs dir: %v", err)
	}
	content := "server:\n  workers: 2\nbackup:\n  prefix: nightly\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", configPath)
	t.Setenv("ENV_NAME", "staging")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Workers != 2 {
		t.Fatalf("expected 2 workers, got %d", cfg.Server.Workers)
	}
	if cfg.Backup.Prefix != "nightly" {
		t.Fatalf("expected prefix nightly, got %s", cfg.Backup.Prefix)
	}
	if cfg.Server.Environment != "staging" {
		t.Fatalf("expected staging environment, got %s", cfg.Server.Environment)
	}
	if cfg.IsDevelopment() {
		t.Fatalf("staging must not be treated as development")
	}
	if cfg.Storage.DataDir != filepath.Join(root, "data") {
		t.Fatalf("expected data dir relative to config root, got %s", cfg.Storage.DataDir)
	}
}

func TestValidateRejectsS3WithoutBucket(t *testing.T) {
	cfg := Default()
	cfg.Backup.Destination.Type = "s3"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for s3 destination without bucket")
	}
}

func TestValidateRejectsIncompleteCustomTool(t *testing.T) {
	cfg := Default()
	cfg.Backup.Tool.Preset = "custom"
	cfg.Backup.Tool.DumpArgs = []string{"dump", "{path}"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for custom tool without restore args")
	}
}
