package metrics

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pma2020/pma-api/internal/config"
	"github.com/pma2020/pma-api/internal/database"
	"github.com/pma2020/pma-api/internal/models"
)

// ArtifactLister lists backup artifacts at the configured destination
type ArtifactLister interface {
	List(ctx context.Context) ([]models.BackupArtifact, error)
}

// Collector periodically samples store-level gauges that are too expensive
// to update on every request.
type Collector struct {
	cfg       *config.Config
	db        *database.DB
	artifacts ArtifactLister
	interval  time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewCollector(cfg *config.Config, db *database.DB, artifacts ArtifactLister) *Collector {
	return &Collector{
		cfg:       cfg,
		db:        db,
		artifacts: artifacts,
		interval:  15 * time.Second,
		stopCh:    make(chan struct{}),
	}
}

func (c *Collector) Start() {
	if !c.cfg.Metrics.Enabled {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.collectAll()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collectAll()
			case <-c.stopCh:
				return
			}
		}
	}()
}

func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) collectAll() {
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	if c.db != nil {
		var count int64
		if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM datasets").Scan(&count); err != nil {
			log.Printf("[Metrics] Failed to count datasets: %v", err)
		} else {
			DatasetsStored.Set(float64(count))
		}

		if info, err := os.Stat(c.db.Path()); err == nil {
			DatabaseSizeBytes.Set(float64(info.Size()))
		}
	}

	if c.artifacts != nil {
		artifacts, err := c.artifacts.List(ctx)
		if err != nil {
			log.Printf("[Metrics] Failed to list backup artifacts: %v", err)
			return
		}
		BackupArtifactsStored.Set(float64(len(artifacts)))
	}
}
