// Package app assembles the pma-api components from configuration. An App
// is built once per process and shared by the CLI commands.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pma2020/pma-api/internal/api"
	"github.com/pma2020/pma-api/internal/backup"
	"github.com/pma2020/pma-api/internal/config"
	"github.com/pma2020/pma-api/internal/database"
	"github.com/pma2020/pma-api/internal/dataset"
	"github.com/pma2020/pma-api/internal/logging"
	"github.com/pma2020/pma-api/internal/metrics"
	"github.com/pma2020/pma-api/internal/server"
	"github.com/pma2020/pma-api/internal/storage"
	"github.com/pma2020/pma-api/internal/tasks"
	"github.com/pma2020/pma-api/internal/websocket"
	"github.com/spf13/afero"
)

// App holds the long-lived components. Store-backed components are nil
// until OpenStore succeeds, so lifecycle commands such as stop never touch
// the database.
type App struct {
	Config   *config.Config
	Files    *storage.Writer
	ErrorLog *logging.ErrorLog
	Server   *server.Manager

	DB        *database.DB
	Datasets  *dataset.Service
	Backups   *backup.Manager
	Retention *backup.RetentionManager

	openOnce sync.Once
	openErr  error
	closers  []func() error
}

// ServeOptions are the flags the serve command accepts
type ServeOptions struct {
	Dev     bool
	Workers int
	PIDFile string
	RunID   string
}

// New sets up logging and the components that do not need the data store
func New(cfg *config.Config) (*App, error) {
	if err := setupLogging(cfg); err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	errlog, err := logging.NewErrorLog(cfg.Logging.ErrorLog, cfg.Logging.SentryDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	files := storage.NewWriter(afero.NewOsFs())
	srv, err := server.NewManager(cfg.Server, server.NewExecLauncher(), files)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize server manager: %w", err)
	}

	a := &App{
		Config:   cfg,
		Files:    files,
		ErrorLog: errlog,
		Server:   srv,
	}
	a.closers = append(a.closers, func() error {
		errlog.Flush(2 * time.Second)
		return nil
	})
	return a, nil
}

// OpenStore opens the database, applies migrations and builds the dataset
// and backup services. Later calls return the first result.
func (a *App) OpenStore() error {
	a.openOnce.Do(func() {
		a.openErr = a.openStore()
	})
	return a.openErr
}

func (a *App) openStore() error {
	cfg := a.Config

	db, err := database.NewDB(cfg.Database.Path, cfg.Database.MaxConnections)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	log.Println("[App] Running database migrations...")
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	a.DB = db

	a.Datasets = dataset.NewService(db.DB, a.Files, cfg)

	dest, err := backup.NewDestination(cfg.Backup.Destination)
	if err != nil {
		return fmt.Errorf("failed to initialize backup destination: %w", err)
	}
	a.closers = append(a.closers, dest.Close)

	tool, err := backup.NewExecTool(cfg, a.ErrorLog)
	if err != nil {
		return fmt.Errorf("failed to initialize backup tool: %w", err)
	}

	a.Backups = backup.NewManager(db.DB, dest, tool, a.Files, cfg)
	a.Retention = backup.NewRetentionManager(a.Backups)
	return nil
}

// Close releases everything opened so far, newest first
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	if err := logging.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// TaskStore opens the configured task-state store
func (a *App) TaskStore() (tasks.Store, error) {
	if a.Config.Tasks.Store == "badger" {
		store, err := tasks.NewBadgerStore(a.Config.Tasks.BadgerDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open task store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	}

	if err := a.OpenStore(); err != nil {
		return nil, err
	}
	return tasks.NewSQLStore(a.DB.DB), nil
}

// Serve runs the HTTP API with its task queue, progress hub, metrics
// collector and backup schedule until ctx is cancelled.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	cfg := a.Config
	if opts.Dev {
		cfg.Server.Environment = config.EnvDevelopment
	}
	if opts.Workers > 0 {
		cfg.Server.Workers = opts.Workers
	}

	if err := a.OpenStore(); err != nil {
		return err
	}

	store, err := a.TaskStore()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := websocket.NewHub()
	go hub.Run(runCtx)

	queue := tasks.NewQueue(store, cfg.Server.Workers, cfg.Tasks.Buffer, hub)
	if cfg.Tasks.NATSURL != "" {
		publisher, err := tasks.NewNATSPublisher(cfg.Tasks.NATSURL, cfg.Tasks.Subject)
		if err != nil {
			log.Printf("[App] NATS unavailable, progress fan-out disabled: %v", err)
		} else {
			defer publisher.Close()
			queue.AddListener(publisher)
		}
	}
	queue.Start(runCtx)
	defer queue.Stop()

	collector := metrics.NewCollector(cfg, a.DB, a.Backups)
	collector.Start()
	defer collector.Stop()

	scheduler := backup.NewScheduleRunner(cfg.Backup.Schedule, cfg.Backup.RetentionCount, a.Backups, a.Retention, queue)
	if err := scheduler.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start backup schedule: %w", err)
	}
	defer scheduler.Stop()

	if _, err := a.Server.Register(opts.RunID); err != nil {
		return fmt.Errorf("failed to register server process: %w", err)
	}
	if opts.PIDFile != "" {
		if err := a.Server.PersistPID(opts.PIDFile); err != nil {
			return fmt.Errorf("failed to write pid file: %w", err)
		}
	}

	router := api.SetupRouter(cfg, api.Deps{
		Tasks:     queue,
		Streamer:  hub,
		Queue:     queue,
		Datasets:  a.Datasets,
		Backups:   a.Backups,
		Retention: a.Retention,
		Ready:     a.DB.PingContext,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Println("[App] All server components initialized successfully")

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("[App] Starting server on %s (%d workers)", httpServer.Addr, cfg.Server.Workers)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("[App] Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := a.Server.Release(opts.PIDFile); err != nil {
		log.Printf("[App] Warning: Failed to release pid file: %v", err)
	}

	log.Println("[App] Server exited")
	return nil
}

func setupLogging(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Logging.File) == "" {
		logsDir := cfg.Storage.LogsDir
		if logsDir == "" {
			logsDir = filepath.Join("data", "logs")
		}
		cfg.Logging.File = filepath.Join(logsDir, "pma-api.log")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
		return err
	}
	_, err := logging.Init(cfg.Logging)
	return err
}
