package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pma2020/pma-api/internal/api/handlers"
	"github.com/pma2020/pma-api/internal/api/middleware"
	"github.com/pma2020/pma-api/internal/auth"
	"github.com/pma2020/pma-api/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the services behind the HTTP routes
type Deps struct {
	Tasks     handlers.TaskSource
	Streamer  handlers.Streamer
	Queue     handlers.Submitter
	Datasets  handlers.DatasetService
	Backups   handlers.BackupService
	Retention handlers.Pruner

	// Ready reports whether the data store is reachable
	Ready func(ctx context.Context) error
}

// NewJWTManager builds the token manager from the auth settings
func NewJWTManager(cfg *config.Config) *auth.JWTManager {
	return auth.NewJWTManager(cfg.Auth.JWTSecret, parseDuration(cfg.Auth.AccessTokenDuration))
}

// SetupRouter configures and returns the HTTP router
func SetupRouter(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.IsDevelopment() || cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger("/healthz"))
	router.Use(middleware.SecurityHeaders())

	jwtManager := NewJWTManager(cfg)

	taskHandler := handlers.NewTaskHandler(deps.Tasks, deps.Streamer)
	datasetHandler := handlers.NewDatasetHandler(deps.Datasets, deps.Queue, cfg.Datasets.AuthorPlaceholder)
	backupHandler := handlers.NewBackupHandler(deps.Backups, deps.Retention, deps.Queue, cfg.Backup.RetentionCount)

	// Public routes
	public := router.Group("/api/v1")
	{
		public.GET("/tasks/:id", taskHandler.GetTask)
		public.GET("/tasks/:id/stream", taskHandler.StreamTask)
	}

	// Admin routes
	admin := router.Group("/api/v1")
	admin.Use(middleware.Auth(jwtManager))
	{
		datasets := admin.Group("/datasets")
		datasets.Use(middleware.RequireScope(auth.ScopeDatasets))
		{
			datasets.POST("", datasetHandler.UploadDataset)
			datasets.GET("", datasetHandler.ListDatasets)
			datasets.GET("/:id/download", datasetHandler.DownloadDataset)
		}

		backups := admin.Group("/backups")
		backups.Use(middleware.RequireScope(auth.ScopeBackups))
		{
			backups.POST("", backupHandler.CreateBackup)
			backups.GET("", backupHandler.ListBackups)
			backups.POST("/prune", backupHandler.PruneBackups)
			backups.POST("/:name/restore", backupHandler.RestoreBackup)
			backups.DELETE("/:name", backupHandler.DeleteBackup)
		}
	}

	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	router.GET("/healthz", func(c *gin.Context) {
		if deps.Ready != nil {
			if err := deps.Ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

// parseDuration falls back to 24h for an unparsable duration
func parseDuration(duration string) time.Duration {
	d, err := time.ParseDuration(duration)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}
