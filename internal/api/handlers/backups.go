package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pma2020/pma-api/internal/backup"
	"github.com/pma2020/pma-api/internal/models"
	"github.com/pma2020/pma-api/internal/tasks"
)

// BackupService is the backup orchestrator used by the handlers
type BackupService interface {
	Backup(ctx context.Context, sink tasks.Sink) (*models.BackupArtifact, error)
	Restore(ctx context.Context, ref string, sink tasks.Sink) error
	Delete(ctx context.Context, ref string) error
	List(ctx context.Context) ([]models.BackupArtifact, error)
}

// Pruner applies a retention count
type Pruner interface {
	Enforce(ctx context.Context, keep int) (int, error)
}

// BackupHandler handles backup-related HTTP requests
type BackupHandler struct {
	backups   BackupService
	retention Pruner
	queue     Submitter
	keep      int
}

// NewBackupHandler creates a new backup handler. keep is the default
// retention count for prune requests.
func NewBackupHandler(backups BackupService, retention Pruner, queue Submitter, keep int) *BackupHandler {
	return &BackupHandler{backups: backups, retention: retention, queue: queue, keep: keep}
}

// CreateBackup queues a backup of the data store
// POST /api/v1/backups
func (h *BackupHandler) CreateBackup(c *gin.Context) {
	taskID, err := h.queue.Submit(c.Request.Context(), "backup", func(ctx context.Context, sink tasks.Sink) (string, error) {
		artifact, err := h.backups.Backup(ctx, sink)
		if err != nil {
			return "", err
		}
		return "Stored backup " + artifact.Name, nil
	})
	if err != nil {
		queueUnavailable(c, err)
		return
	}

	accepted(c, taskID)
}

// ListBackups lists artifacts at the destination
// GET /api/v1/backups
func (h *BackupHandler) ListBackups(c *gin.Context) {
	artifacts, err := h.backups.List(c.Request.Context())
	if err != nil {
		log.Printf("[Backups] Failed to list backups: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list backups"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"backups": artifacts, "count": len(artifacts)})
}

// RestoreBackup queues a restore of the named artifact
// POST /api/v1/backups/:name/restore
func (h *BackupHandler) RestoreBackup(c *gin.Context) {
	ref := c.Param("name")
	if _, err := backup.ResolveArtifactName(ref); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	taskID, err := h.queue.Submit(c.Request.Context(), "restore", func(ctx context.Context, sink tasks.Sink) (string, error) {
		if err := h.backups.Restore(ctx, ref, sink); err != nil {
			return "", err
		}
		return "Restored backup " + ref, nil
	})
	if err != nil {
		queueUnavailable(c, err)
		return
	}

	accepted(c, taskID)
}

// DeleteBackup removes the named artifact
// DELETE /api/v1/backups/:name
func (h *BackupHandler) DeleteBackup(c *gin.Context) {
	err := h.backups.Delete(c.Request.Context(), c.Param("name"))
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, backup.ErrInvalidArtifactName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, backup.ErrArtifactNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Printf("[Backups] Failed to delete %s: %v", c.Param("name"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete backup"})
	}
}

// PruneBackups keeps the newest ?keep=N artifacts and deletes the rest
// POST /api/v1/backups/prune
func (h *BackupHandler) PruneBackups(c *gin.Context) {
	keep := h.keep
	if raw := c.Query("keep"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "keep must be a positive integer"})
			return
		}
		keep = n
	}
	if keep < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No retention count configured"})
		return
	}

	deleted, err := h.retention.Enforce(c.Request.Context(), keep)
	if err != nil {
		log.Printf("[Backups] Retention enforcement failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Retention enforcement failed: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "kept": keep})
}
