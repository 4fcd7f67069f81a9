package tasks

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/taskgate/taskgate/internal/wire"
)

// Handler serves the /v1/tasks API.
type Handler struct {
	store *Store
}

// NewHandler creates the task API handler.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts the task endpoints on the (already authenticated)
// router group.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/tasks", h.List)
	r.POST("/tasks", h.Create)
	r.GET("/tasks/:id", h.Get)
	r.PATCH("/tasks/:id", h.Update)
	r.DELETE("/tasks/:id", h.Delete)
	r.GET("/tasks/:id/runs", h.Runs)
	r.POST("/tasks/:id/runs", h.LinkRun)
}

// CreateTaskRequest is the POST /v1/tasks body.
type CreateTaskRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

// LinkRunRequest is the POST /v1/tasks/:id/runs body.
type LinkRunRequest struct {
	RunID      string `json:"runId" binding:"required"`
	WorkflowID string `json:"workflowId"`
}

// UpdateTaskRequest is the PATCH /v1/tasks/:id body.
type UpdateTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

// List handles GET /v1/tasks.
func (h *Handler) List(c *gin.Context) {
	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	tasks, err := h.store.List(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, wire.ErrorResponse{Error: "failed to list tasks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// Create handles POST /v1/tasks.
func (h *Handler) Create(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: err.Error()})
		return
	}

	task, err := h.store.Create(c.Request.Context(), req.Title, req.Description)
	if err != nil {
		c.JSON(http.StatusInternalServerError, wire.ErrorResponse{Error: "failed to create task"})
		return
	}
	c.JSON(http.StatusCreated, task)
}

// Get handles GET /v1/tasks/:id.
func (h *Handler) Get(c *gin.Context) {
	task, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, wire.ErrorResponse{Error: "task not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, wire.ErrorResponse{Error: "failed to get task"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// Update handles PATCH /v1/tasks/:id.
func (h *Handler) Update(c *gin.Context) {
	var req UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: err.Error()})
		return
	}

	task, err := h.store.Update(c.Request.Context(), c.Param("id"), req.Title, req.Description, req.Status)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, wire.ErrorResponse{Error: "task not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

// Delete handles DELETE /v1/tasks/:id.
func (h *Handler) Delete(c *gin.Context) {
	err := h.store.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, wire.ErrorResponse{Error: "task not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, wire.ErrorResponse{Error: "failed to delete task"})
		return
	}
	c.JSON(http.StatusOK, wire.Ack{OK: true})
}

// LinkRun handles POST /v1/tasks/:id/runs. Workers call it when they start
// a workflow run on behalf of a task, so the runs listing can trace a task
// back to its executions.
func (h *Handler) LinkRun(c *gin.Context) {
	var req LinkRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: err.Error()})
		return
	}

	if _, err := h.store.Get(c.Request.Context(), c.Param("id")); errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, wire.ErrorResponse{Error: "task not found"})
		return
	}

	if err := h.store.LinkRun(c.Request.Context(), c.Param("id"), req.RunID, req.WorkflowID); err != nil {
		c.JSON(http.StatusInternalServerError, wire.ErrorResponse{Error: "failed to link run"})
		return
	}
	c.JSON(http.StatusCreated, wire.Ack{OK: true})
}

// Runs handles GET /v1/tasks/:id/runs.
func (h *Handler) Runs(c *gin.Context) {
	if _, err := h.store.Get(c.Request.Context(), c.Param("id")); errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, wire.ErrorResponse{Error: "task not found"})
		return
	}

	runs, err := h.store.Runs(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, wire.ErrorResponse{Error: "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
