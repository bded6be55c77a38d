package handler

import (
	"net/http"

	"tagengine/internal/task"

	"github.com/gin-gonic/gin"
)

type TaskHandler interface {
	Get(c *gin.Context)
}

type taskHandler struct {
	tasks *task.Manager
}

func NewTaskHandler(tasks *task.Manager) TaskHandler {
	return &taskHandler{tasks: tasks}
}

// Get handles GET /api/tasks/:id
func (h *taskHandler) Get(c *gin.Context) {
	snap, ok := h.tasks.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}
