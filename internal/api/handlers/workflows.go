// Package handlers implements the public control API: workflow inspection
// and control, and token minting.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/taskgate/taskgate/internal/wire"
	"github.com/taskgate/taskgate/internal/workflows"
)

// WorkflowHandler serves the /v1/workflows control endpoints.
type WorkflowHandler struct {
	registry workflows.Registry
}

// NewWorkflowHandler creates the workflow control handler.
func NewWorkflowHandler(registry workflows.Registry) *WorkflowHandler {
	return &WorkflowHandler{registry: registry}
}

// RegisterRoutes mounts the workflow endpoints on the (already
// authenticated) router group.
func (h *WorkflowHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/workflows", h.List)
	r.GET("/workflows/statuses", h.ListStatuses)
	r.GET("/workflows/status", h.Status)
	r.POST("/workflows/resume", h.Resume)
	r.POST("/workflows/cancel", h.Cancel)
}

// ControlRequest is the resume/cancel request body.
type ControlRequest struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	SignalName string `json:"signal_name"`
	Payload    any    `json:"payload"`
}

// List handles GET /v1/workflows.
func (h *WorkflowHandler) List(c *gin.Context) {
	pageSize := 0
	if raw := c.Query("page_size"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			pageSize = n
		}
	}

	page, err := h.registry.List(c.Request.Context(), c.Query("query"), pageSize, c.Query("page_token"))
	if err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, page)
}

// ListStatuses handles GET /v1/workflows/statuses.
func (h *WorkflowHandler) ListStatuses(c *gin.Context) {
	records, err := h.registry.ListStatuses(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, wire.ErrorResponse{Error: "failed to list statuses"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": records})
}

// Status handles GET /v1/workflows/status?run_id=...&workflow_id=...
func (h *WorkflowHandler) Status(c *gin.Context) {
	record, err := h.registry.Status(c.Request.Context(), c.Query("run_id"), c.Query("workflow_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

// Resume handles POST /v1/workflows/resume.
func (h *WorkflowHandler) Resume(c *gin.Context) {
	var req ControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: err.Error()})
		return
	}

	ok := h.registry.Resume(c.Request.Context(), req.RunID, req.WorkflowID, req.SignalName, req.Payload)
	c.JSON(http.StatusOK, wire.Ack{OK: ok})
}

// Cancel handles POST /v1/workflows/cancel.
func (h *WorkflowHandler) Cancel(c *gin.Context) {
	var req ControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: err.Error()})
		return
	}

	ok := h.registry.Cancel(c.Request.Context(), req.RunID, req.WorkflowID)
	c.JSON(http.StatusOK, wire.Ack{OK: ok})
}
