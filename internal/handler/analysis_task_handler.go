package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/service"
	"github.com/jengzang/fleet-records-go/pkg/response"
)

// AnalysisTaskHandler handles HTTP requests for analysis tasks
type AnalysisTaskHandler struct {
	service *service.AnalysisTaskService
}

// NewAnalysisTaskHandler creates a new analysis task handler
func NewAnalysisTaskHandler(service *service.AnalysisTaskService) *AnalysisTaskHandler {
	return &AnalysisTaskHandler{service: service}
}

// CreateBackfillRequest represents the request body for a trip backfill
type CreateBackfillRequest struct {
	VehicleIDs []string `json:"vehicle_ids"`
	StartTime  int64    `json:"start_time"` // Unix timestamp, 0 for the first sample
	EndTime    int64    `json:"end_time"`   // Unix timestamp, 0 for the last sample
	Full       bool     `json:"full"`       // ignore stored open trips
}

// CreateBackfill creates a trip backfill task
// POST /api/admin/analysis/backfill
func (h *AnalysisTaskHandler) CreateBackfill(c *gin.Context) {
	var req CreateBackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	if req.StartTime > 0 && req.EndTime > 0 && req.EndTime <= req.StartTime {
		response.BadRequest(c, "end_time must be after start_time")
		return
	}

	params := models.BackfillParams{VehicleIDs: req.VehicleIDs}
	if req.StartTime > 0 {
		params.Start = time.Unix(req.StartTime, 0).UTC()
	}
	if req.EndTime > 0 {
		params.End = time.Unix(req.EndTime, 0).UTC()
	}

	createdBy := c.GetString("user")
	if createdBy == "" {
		createdBy = "admin"
	}

	task, err := h.service.CreateBackfill(c.Request.Context(), params, req.Full, createdBy)
	if errors.Is(err, service.ErrTaskInProgress) {
		response.Conflict(c, err.Error())
		return
	}
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Accepted(c, task)
}

// GetTask retrieves a task by ID
// GET /api/admin/analysis/tasks/:id
func (h *AnalysisTaskHandler) GetTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}

	task, err := h.service.GetTask(c.Request.Context(), id)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	if task == nil {
		response.NotFound(c, "Task not found")
		return
	}

	progress, err := h.service.GetProgress(c.Request.Context(), id)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"task":     task,
		"progress": progress,
	})
}

// ListTasks retrieves all tasks
// GET /api/admin/analysis/tasks
func (h *AnalysisTaskHandler) ListTasks(c *gin.Context) {
	skillName := c.Query("skill_name")
	status := c.Query("status")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		limit = 20
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		offset = 0
	}

	tasks, err := h.service.ListTasks(c.Request.Context(), skillName, status, limit, offset)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"tasks":  tasks,
		"limit":  limit,
		"offset": offset,
	})
}

// CancelTask cancels a running task
// DELETE /api/admin/analysis/tasks/:id
func (h *AnalysisTaskHandler) CancelTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}

	if err := h.service.CancelTask(c.Request.Context(), id); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, gin.H{"message": "Task cancelled successfully"})
}

func taskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid task ID")
		return 0, false
	}
	return id, true
}
