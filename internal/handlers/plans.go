package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mealforge/mealforge-backend/internal/agents"
	"github.com/mealforge/mealforge-backend/internal/services"
	"github.com/mealforge/mealforge-backend/internal/types"
)

type PlansHandler struct {
	jobs *services.PlanJobService
}

func NewPlansHandler(jobs *services.PlanJobService) *PlansHandler {
	return &PlansHandler{jobs: jobs}
}

type submitPlanRequest struct {
	UserID uuid.UUID    `json:"user_id"`
	Intake types.Intake `json:"intake"`
}

// POST /api/plans
func (h *PlansHandler) Submit(c *gin.Context) {
	var req submitPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.UserID == uuid.Nil {
		RespondError(c, http.StatusBadRequest, "missing_user_id", fmt.Errorf("user_id is required"))
		return
	}

	job, err := h.jobs.Submit(c.Request.Context(), req.UserID, req.Intake)
	if err != nil {
		var active *services.ActiveJobError
		if errors.As(err, &active) {
			c.JSON(http.StatusConflict, gin.H{
				"job_id": active.ExistingID,
				"error": APIError{
					Message: "a plan is already being generated for this user",
					Code:    "active_job_exists",
				},
			})
			return
		}
		var validation *agents.ValidationError
		if errors.As(err, &validation) {
			RespondError(c, http.StatusUnprocessableEntity, "invalid_intake", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "submission_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
}

// GET /api/plans/jobs/:id
func (h *PlansHandler) GetJobByID(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.GetByID(c.Request.Context(), jobID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "job_lookup_failed", err)
		return
	}
	if job == nil {
		RespondError(c, http.StatusNotFound, "job_not_found", fmt.Errorf("job %s not found", jobID))
		return
	}
	RespondOK(c, jobStatusView(job))
}

// jobStatusView is the read shape for job status: result only when
// completed, error only when failed.
func jobStatusView(job *types.PlanJob) gin.H {
	view := gin.H{
		"id":           job.ID,
		"status":       job.Status,
		"stage":        job.Stage,
		"stage_number": job.StageNumber,
		"progress":     job.Progress,
		"message":      job.Message,
		"created_at":   job.CreatedAt,
	}
	if job.Status == types.JobStatusCompleted && len(job.Result) > 0 {
		view["result"] = json.RawMessage(job.Result)
	}
	if job.Status == types.JobStatusFailed {
		view["error"] = job.Error
	}
	if job.CompletedAt != nil {
		view["completed_at"] = job.CompletedAt
	}
	return view
}
