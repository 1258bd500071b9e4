package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pma2020/pma-api/internal/dataset"
	"github.com/pma2020/pma-api/internal/models"
	"github.com/pma2020/pma-api/internal/tasks"
)

// DatasetService is the dataset store used by the handlers
type DatasetService interface {
	Upload(ctx context.Context, name string, src io.Reader, sink tasks.Sink) (int64, error)
	Get(ctx context.Context, id int64) (*models.Dataset, error)
	List(ctx context.Context) ([]models.DatasetInfo, error)
}

// DatasetHandler handles dataset upload, listing and download
type DatasetHandler struct {
	datasets DatasetService
	queue    Submitter
	author   string
}

func NewDatasetHandler(datasets DatasetService, queue Submitter, author string) *DatasetHandler {
	return &DatasetHandler{datasets: datasets, queue: queue, author: author}
}

// UploadDataset stores the multipart "file" field as a new dataset version
// POST /api/v1/datasets
func (h *DatasetHandler) UploadDataset(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file field"})
		return
	}

	name := c.PostForm("name")
	if name == "" {
		name = header.Filename
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
		return
	}
	defer file.Close()

	// The job runs after the request ends, so the body is read now
	payload, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
		return
	}

	taskID, err := h.queue.Submit(c.Request.Context(), "dataset_upload", func(ctx context.Context, sink tasks.Sink) (string, error) {
		id, err := h.datasets.Upload(ctx, name, bytes.NewReader(payload), sink)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Stored dataset %d", id), nil
	})
	if err != nil {
		queueUnavailable(c, err)
		return
	}

	log.Printf("[Datasets] Queued upload of %s (%d bytes) as task %s", name, len(payload), taskID)
	accepted(c, taskID)
}

// ListDatasets returns dataset metadata, newest first
// GET /api/v1/datasets
func (h *DatasetHandler) ListDatasets(c *gin.Context) {
	list, err := h.datasets.List(c.Request.Context())
	if err != nil {
		log.Printf("[Datasets] Failed to list datasets: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list datasets"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"datasets": list, "count": len(list)})
}

// DownloadDataset returns the stored payload under its materialized name
// GET /api/v1/datasets/:id/download
func (h *DatasetHandler) DownloadDataset(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid dataset id"})
		return
	}

	d, err := h.datasets.Get(c.Request.Context(), id)
	if errors.Is(err, dataset.ErrDatasetNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		log.Printf("[Datasets] Failed to load dataset %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load dataset"})
		return
	}

	filename := dataset.MaterializedName(d, h.author)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", d.Payload)
}
