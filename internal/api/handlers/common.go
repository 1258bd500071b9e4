package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pma2020/pma-api/internal/tasks"
)

// Submitter queues a job as a tracked task
type Submitter interface {
	Submit(ctx context.Context, kind string, job tasks.Job) (string, error)
}

func accepted(c *gin.Context, taskID string) {
	c.Header("Location", "/api/v1/tasks/"+taskID)
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

func queueUnavailable(c *gin.Context, err error) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Task queue unavailable: " + err.Error()})
}
