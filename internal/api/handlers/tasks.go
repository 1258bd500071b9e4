package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pma2020/pma-api/internal/tasks"
)

// TaskSource returns the latest record of a task
type TaskSource interface {
	Get(ctx context.Context, taskID string) (tasks.Record, error)
}

// Streamer subscribes a websocket connection to a task. load returns the
// task's latest record.
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, taskID string, load func() (*tasks.Record, error)) error
}

// TaskHandler serves task state for polling and streaming clients
type TaskHandler struct {
	source   TaskSource
	streamer Streamer
}

func NewTaskHandler(source TaskSource, streamer Streamer) *TaskHandler {
	return &TaskHandler{source: source, streamer: streamer}
}

// GetTask returns the task record
// GET /api/v1/tasks/:id
func (h *TaskHandler) GetTask(c *gin.Context) {
	rec, err := h.source.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, tasks.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	if err != nil {
		log.Printf("[Tasks] Failed to load task %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, tasks.Record{
			State:   tasks.StateFailure,
			Status:  "Internal server error",
			Current: 0,
			Total:   100,
		})
		return
	}

	c.JSON(http.StatusOK, rec)
}

// StreamTask upgrades to a websocket that receives every update of the task
// GET /api/v1/tasks/:id/stream
func (h *TaskHandler) StreamTask(c *gin.Context) {
	taskID := c.Param("id")
	ctx := c.Request.Context()
	if _, err := h.source.Get(ctx, taskID); err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load task"})
		return
	}

	load := func() (*tasks.Record, error) {
		rec, err := h.source.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		return &rec, nil
	}
	if err := h.streamer.Serve(c.Writer, c.Request, taskID, load); err != nil {
		log.Printf("[Tasks] Stream for task %s failed: %v", taskID, err)
	}
}
