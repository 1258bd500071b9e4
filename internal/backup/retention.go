package backup

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/pma2020/pma-api/internal/models"
)

// RetentionManager deletes old artifacts beyond a keep count
type RetentionManager struct {
	manager *Manager
}

// RetentionStats summarizes what Enforce would do
type RetentionStats struct {
	TotalBackups    int   `json:"total_backups"`
	RetentionLimit  int   `json:"retention_limit"`
	BackupsToDelete int   `json:"backups_to_delete"`
	TotalSizeBytes  int64 `json:"total_size_bytes"`
	WillDeleteBytes int64 `json:"will_delete_size"`
}

// NewRetentionManager creates a new retention manager
func NewRetentionManager(manager *Manager) *RetentionManager {
	return &RetentionManager{manager: manager}
}

// Enforce keeps the keep newest artifacts and deletes the rest. keep <= 0
// keeps everything. It returns the number of deleted artifacts.
func (rm *RetentionManager) Enforce(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		log.Printf("[Retention] No retention policy (keep all)")
		return 0, nil
	}

	artifacts, err := rm.sorted(ctx)
	if err != nil {
		return 0, err
	}

	if len(artifacts) <= keep {
		log.Printf("[Retention] Current backup count (%d) is within retention policy (%d)", len(artifacts), keep)
		return 0, nil
	}

	deleted := 0
	for _, artifact := range artifacts[keep:] {
		log.Printf("[Retention] Deleting old backup: %s (created: %s)",
			artifact.Name, artifact.CreatedAt.Format("2006-01-02 15:04:05"))

		if err := rm.manager.Delete(ctx, artifact.Name); err != nil {
			log.Printf("[Retention] Error deleting backup %s: %v", artifact.Name, err)
			continue
		}
		deleted++
	}

	log.Printf("[Retention] Retention enforcement complete: deleted %d backups", deleted)
	return deleted, nil
}

// Stats reports the effect of Enforce(keep) without deleting anything
func (rm *RetentionManager) Stats(ctx context.Context, keep int) (*RetentionStats, error) {
	artifacts, err := rm.sorted(ctx)
	if err != nil {
		return nil, err
	}

	stats := &RetentionStats{TotalBackups: len(artifacts), RetentionLimit: keep}
	for i, artifact := range artifacts {
		stats.TotalSizeBytes += artifact.SizeBytes
		if keep > 0 && i >= keep {
			stats.BackupsToDelete++
			stats.WillDeleteBytes += artifact.SizeBytes
		}
	}
	return stats, nil
}

// sorted lists this manager's own artifacts, newest first. Artifacts with
// another prefix, OS tag or environment tag are never candidates.
func (rm *RetentionManager) sorted(ctx context.Context) ([]models.BackupArtifact, error) {
	artifacts, err := rm.manager.Owned(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	sort.SliceStable(artifacts, func(i, j int) bool {
		if !artifacts[i].CreatedAt.Equal(artifacts[j].CreatedAt) {
			return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
		}
		return artifacts[i].Name > artifacts[j].Name
	})
	return artifacts, nil
}
