package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment names understood by the process lifecycle manager
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvStaging     = "staging"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Datasets DatasetsConfig `yaml:"datasets" json:"datasets"`
	Backup   BackupConfig   `yaml:"backup" json:"backup"`
	Tasks    TasksConfig    `yaml:"tasks" json:"tasks"`
	Auth     AuthConfig     `yaml:"auth" json:"auth"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// ServerConfig contains HTTP server and process lifecycle settings
type ServerConfig struct {
	Environment string `yaml:"environment" json:"environment"`
	Host        string `yaml:"host" json:"host"`
	Port        int    `yaml:"port" json:"port"`
	Workers     int    `yaml:"workers" json:"workers"`
	PIDFile     string `yaml:"pid_file" json:"pid_file"`
	ProcessLog  string `yaml:"process_log" json:"process_log"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path           string `yaml:"path" json:"path"`
	MaxConnections int    `yaml:"max_connections" json:"max_connections"`
}

// StorageConfig contains storage paths
type StorageConfig struct {
	ConfigDir string `yaml:"config_dir" json:"config_dir"`
	DataDir   string `yaml:"data_dir" json:"data_dir"`
	TempDir   string `yaml:"temp_dir" json:"temp_dir"`
	BackupDir string `yaml:"backup_dir" json:"backup_dir"`
	LogsDir   string `yaml:"logs_dir" json:"logs_dir"`
}

// DatasetsConfig controls dataset ingestion
type DatasetsConfig struct {
	AcceptedExtensions []string `yaml:"accepted_extensions" json:"accepted_extensions"`
	DefaultExtension   string   `yaml:"default_extension" json:"default_extension"`
	AuthorPlaceholder  string   `yaml:"author_placeholder" json:"author_placeholder"`
}

// BackupConfig controls the backup/restore orchestrator
type BackupConfig struct {
	Prefix         string            `yaml:"prefix" json:"prefix"`
	OSTag          string            `yaml:"os_tag" json:"os_tag"`
	Tool           ToolConfig        `yaml:"tool" json:"tool"`
	Destination    DestinationConfig `yaml:"destination" json:"destination"`
	Schedule       string            `yaml:"schedule" json:"schedule"`
	RetentionCount int               `yaml:"retention_count" json:"retention_count"`
}

// ToolConfig selects the external dump/restore tool
// Preset values: "sqlite", "postgres", "custom"
type ToolConfig struct {
	Preset      string   `yaml:"preset" json:"preset"`
	DatabaseURL string   `yaml:"database_url" json:"database_url"`
	DumpArgs    []string `yaml:"dump_args" json:"dump_args"`
	RestoreArgs []string `yaml:"restore_args" json:"restore_args"`
}

// DestinationConfig describes where backup artifacts are kept
type DestinationConfig struct {
	Type string `yaml:"type" json:"type"` // "local", "s3", "sftp"
	Path string `yaml:"path" json:"path"`

	// S3 specific
	S3Bucket    string `yaml:"s3_bucket" json:"s3_bucket"`
	S3Region    string `yaml:"s3_region" json:"s3_region"`
	S3AccessKey string `yaml:"s3_access_key" json:"-"`
	S3SecretKey string `yaml:"s3_secret_key" json:"-"`
	S3Endpoint  string `yaml:"s3_endpoint" json:"s3_endpoint"`

	// SFTP specific
	SFTPHost        string `yaml:"sftp_host" json:"sftp_host"`
	SFTPPort        int    `yaml:"sftp_port" json:"sftp_port"`
	SFTPUsername    string `yaml:"sftp_username" json:"sftp_username"`
	SFTPPassword    string `yaml:"sftp_password" json:"-"`
	SFTPKeyPath     string `yaml:"sftp_key_path" json:"sftp_key_path"`
	KnownHostsPath  string `yaml:"known_hosts_path" json:"known_hosts_path"`
	TrustOnFirstUse bool   `yaml:"trust_on_first_use" json:"trust_on_first_use"`
}

// TasksConfig controls the async task state store and progress fan-out
type TasksConfig struct {
	Store     string `yaml:"store" json:"store"` // "sqlite", "badger"
	BadgerDir string `yaml:"badger_dir" json:"badger_dir"`
	Buffer    int    `yaml:"buffer" json:"buffer"`
	NATSURL   string `yaml:"nats_url" json:"nats_url"`
	Subject   string `yaml:"subject" json:"subject"`
	StatusURL string `yaml:"status_url" json:"status_url"`
}

// AuthConfig contains admin route authentication settings
type AuthConfig struct {
	JWTSecret           string `yaml:"jwt_secret" json:"-"`
	AccessTokenDuration string `yaml:"access_token_duration" json:"access_token_duration"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	ErrorLog   string `yaml:"error_log" json:"error_log"`
	SentryDSN  string `yaml:"sentry_dsn" json:"-"`
}

// MetricsConfig contains prometheus settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// Default returns the built-in configuration before file and environment overrides
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Environment: EnvDevelopment,
			Host:        "0.0.0.0",
			Port:        5000,
			Workers:     4,
			PIDFile:     "./data/pma-api_process-id.pid",
			ProcessLog:  "./data/logs/server.log",
		},
		Database: DatabaseConfig{
			Path:           "./data/pma-api.db",
			MaxConnections: 25,
		},
		Storage: StorageConfig{
			ConfigDir: "./configs",
			DataDir:   "./data",
			TempDir:   "./data/tmp",
			BackupDir: "./data/backups",
			LogsDir:   "./data/logs",
		},
		Datasets: DatasetsConfig{
			AcceptedExtensions: []string{".xlsx"},
			DefaultExtension:   ".xlsx",
			AuthorPlaceholder:  "unk",
		},
		Backup: BackupConfig{
			Prefix: "pma-api-backup",
			Tool: ToolConfig{
				Preset: "sqlite",
			},
			Destination: DestinationConfig{
				Type:            "local",
				Path:            "./data/backups",
				S3Region:        "us-east-1",
				SFTPPort:        22,
				TrustOnFirstUse: true,
			},
			Schedule:       "",
			RetentionCount: 0,
		},
		Tasks: TasksConfig{
			Store:   "sqlite",
			Buffer:  16,
			Subject: "pma.tasks",
		},
		Auth: AuthConfig{
			JWTSecret:           getEnv("JWT_SECRET", ""),
			AccessTokenDuration: "24h",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			File:       "",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	cfg := Default()

	configPath := GetConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.normalizeStoragePaths(configPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if env := os.Getenv("ENV_NAME"); env != "" {
		c.Server.Environment = env
	}

	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		c.Database.Path = dbPath
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDir = dataDir
	}

	if backupDir := os.Getenv("BACKUP_DIR"); backupDir != "" {
		c.Storage.BackupDir = backupDir
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}

	if workers := os.Getenv("WEB_CONCURRENCY"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			c.Server.Workers = n
		}
	}

	if bucket := os.Getenv("S3_BUCKET"); bucket != "" {
		c.Backup.Destination.S3Bucket = bucket
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		c.Backup.Destination.S3AccessKey = key
	}
	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" {
		c.Backup.Destination.S3SecretKey = secret
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		c.Backup.Destination.S3Region = region
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.Tasks.NATSURL = natsURL
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		c.Logging.SentryDSN = dsn
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Backup.Destination.Type {
	case "local", "sftp":
	case "s3":
		if c.Backup.Destination.S3Bucket == "" {
			return fmt.Errorf("backup destination s3 requires s3_bucket")
		}
	default:
		return fmt.Errorf("unsupported backup destination type: %s", c.Backup.Destination.Type)
	}

	switch c.Backup.Tool.Preset {
	case "sqlite", "postgres":
	case "custom":
		if len(c.Backup.Tool.DumpArgs) == 0 || len(c.Backup.Tool.RestoreArgs) == 0 {
			return fmt.Errorf("custom backup tool requires dump_args and restore_args")
		}
	default:
		return fmt.Errorf("unsupported backup tool preset: %s", c.Backup.Tool.Preset)
	}

	if c.Backup.Prefix == "" || strings.Contains(c.Backup.Prefix, "/") {
		return fmt.Errorf("backup prefix must be a non-empty name without slashes")
	}

	switch c.Tasks.Store {
	case "sqlite", "badger":
	default:
		return fmt.Errorf("unsupported task store: %s", c.Tasks.Store)
	}

	if c.Server.Workers < 1 {
		return fmt.Errorf("server workers must be at least 1")
	}

	if len(c.Datasets.AcceptedExtensions) == 0 {
		return fmt.Errorf("at least one accepted dataset extension is required")
	}

	// Check for unexpanded environment variables
	if strings.HasPrefix(c.Auth.JWTSecret, "${") {
		return fmt.Errorf("JWT_SECRET contains unexpanded environment variable")
	}

	return nil
}

// IsDevelopment reports whether the configured environment is development
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(strings.TrimSpace(c.Server.Environment), EnvDevelopment)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func resolveConfigPath() string {
	candidates := []string{"../configs/config.yaml", "./configs/config.yaml"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "./configs/config.yaml"
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	return configPath
}

// Save writes the configuration back to disk
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) normalizeStoragePaths(configPath string) {
	baseDir := filepath.Dir(configPath)
	if !filepath.IsAbs(baseDir) {
		if absBase, err := filepath.Abs(baseDir); err == nil {
			baseDir = absBase
		}
	}

	rootDir := baseDir
	if filepath.Base(baseDir) == "configs" {
		rootDir = filepath.Dir(baseDir)
	}

	resolvePath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return ""
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(rootDir, trimmed))
	}

	if strings.TrimSpace(c.Storage.ConfigDir) == "" {
		c.Storage.ConfigDir = baseDir
	}
	c.Storage.ConfigDir = resolvePath(c.Storage.ConfigDir)

	if strings.TrimSpace(c.Storage.DataDir) == "" {
		c.Storage.DataDir = filepath.Join(rootDir, "data")
	}
	c.Storage.DataDir = resolvePath(c.Storage.DataDir)

	if strings.TrimSpace(c.Storage.TempDir) == "" {
		c.Storage.TempDir = filepath.Join(c.Storage.DataDir, "tmp")
	}
	c.Storage.TempDir = resolvePath(c.Storage.TempDir)

	if strings.TrimSpace(c.Storage.BackupDir) == "" {
		c.Storage.BackupDir = filepath.Join(c.Storage.DataDir, "backups")
	}
	c.Storage.BackupDir = resolvePath(c.Storage.BackupDir)

	if strings.TrimSpace(c.Storage.LogsDir) == "" {
		c.Storage.LogsDir = filepath.Join(c.Storage.DataDir, "logs")
	}
	c.Storage.LogsDir = resolvePath(c.Storage.LogsDir)

	if strings.TrimSpace(c.Database.Path) != "" {
		c.Database.Path = resolvePath(c.Database.Path)
	}

	if strings.TrimSpace(c.Server.PIDFile) == "" {
		c.Server.PIDFile = filepath.Join(c.Storage.DataDir, "pma-api_process-id.pid")
	}
	c.Server.PIDFile = resolvePath(c.Server.PIDFile)

	if strings.TrimSpace(c.Server.ProcessLog) == "" {
		c.Server.ProcessLog = filepath.Join(c.Storage.LogsDir, "server.log")
	}
	c.Server.ProcessLog = resolvePath(c.Server.ProcessLog)

	if strings.TrimSpace(c.Logging.ErrorLog) == "" {
		c.Logging.ErrorLog = filepath.Join(c.Storage.LogsDir, "error.log")
	}
	c.Logging.ErrorLog = resolvePath(c.Logging.ErrorLog)

	// Local backups live in the backup dir unless a path is given explicitly
	if c.Backup.Destination.Type == "local" {
		if strings.TrimSpace(c.Backup.Destination.Path) == "" {
			c.Backup.Destination.Path = c.Storage.BackupDir
		}
		c.Backup.Destination.Path = resolvePath(c.Backup.Destination.Path)
	} else if c.Backup.Destination.Type == "s3" && strings.TrimSpace(c.Backup.Destination.Path) == "" {
		c.Backup.Destination.Path = "backups"
	}

	if strings.TrimSpace(c.Backup.Destination.KnownHostsPath) == "" {
		c.Backup.Destination.KnownHostsPath = filepath.Join(c.Storage.DataDir, "known_hosts")
	}
	c.Backup.Destination.KnownHostsPath = resolvePath(c.Backup.Destination.KnownHostsPath)

	if strings.TrimSpace(c.Tasks.BadgerDir) == "" {
		c.Tasks.BadgerDir = filepath.Join(c.Storage.DataDir, "tasks")
	}
	c.Tasks.BadgerDir = resolvePath(c.Tasks.BadgerDir)
}
