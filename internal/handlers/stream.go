package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mealforge/mealforge-backend/internal/agents"
	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/services"
	"github.com/mealforge/mealforge-backend/internal/sse"
	"github.com/mealforge/mealforge-backend/internal/types"
)

// StreamHandler serves the live progress feed as newline-delimited JSON.
// Events normally arrive through the hub; the poll ticker papers over a
// missing or lagging broadcast layer by reading the job row with the same
// event shape. Disconnects and lease expiry only end the stream, never the
// job.
type StreamHandler struct {
	log          *logger.Logger
	hub          *sse.Hub
	jobs         *services.PlanJobService
	pollInterval time.Duration
	maxLease     time.Duration
}

func NewStreamHandler(baseLog *logger.Logger, hub *sse.Hub, jobs *services.PlanJobService, pollInterval, maxLease time.Duration) *StreamHandler {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if maxLease <= 0 {
		maxLease = 10 * time.Minute
	}
	return &StreamHandler{
		log:          baseLog.With("handler", "StreamHandler"),
		hub:          hub,
		jobs:         jobs,
		pollInterval: pollInterval,
		maxLease:     maxLease,
	}
}

// GET /api/plans/jobs/:id/events
func (h *StreamHandler) Events(c *gin.Context) {
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

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	cursor := &streamCursor{}
	h.writeEvent(c, jobEventFromRow(job), cursor)
	if types.IsTerminalJobStatus(job.Status) {
		return
	}

	client := h.hub.NewClient()
	h.hub.Subscribe(client, jobID.String())
	defer h.hub.CloseClient(client)

	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()
	lease := time.NewTimer(h.maxLease)
	defer lease.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-client.Done():
			return
		case <-lease.C:
			h.log.Info("Stream lease expired", "job_id", jobID.String())
			return
		case msg := <-client.Outbound:
			ev, ok := eventFromMessage(msg)
			if !ok {
				continue
			}
			h.writeEvent(c, ev, cursor)
			if ev.Status == agents.ProgressCompleted || ev.Status == agents.ProgressFailed {
				return
			}
		case <-poll.C:
			job, err := h.jobs.GetByID(c.Request.Context(), jobID)
			if err != nil || job == nil {
				continue
			}
			h.writeEvent(c, jobEventFromRow(job), cursor)
			if types.IsTerminalJobStatus(job.Status) {
				return
			}
		}
	}
}

// streamCursor tracks what a viewer has already seen. The push and poll paths
// race each other, so a hub message can arrive after a poll tick already
// printed a later row state; the cursor keeps the emitted stage sequence
// non-decreasing and refuses anything after a terminal line.
type streamCursor struct {
	stage    int
	lastKey  string
	terminal bool
}

// writeEvent emits one NDJSON line unless the cursor says the viewer is
// already past it.
func (h *StreamHandler) writeEvent(c *gin.Context, ev services.JobEvent, cur *streamCursor) {
	if cur.terminal {
		return
	}
	terminal := ev.Status == agents.ProgressCompleted || ev.Status == agents.ProgressFailed
	if !terminal && ev.Stage < cur.stage {
		return
	}
	key := fmt.Sprintf("%s/%d/%s", ev.Status, ev.Stage, ev.Message)
	if key == cur.lastKey {
		return
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if _, err := c.Writer.Write(append(line, '\n')); err != nil {
		return
	}
	c.Writer.Flush()
	cur.lastKey = key
	if ev.Stage > cur.stage {
		cur.stage = ev.Stage
	}
	cur.terminal = terminal
}

// eventFromMessage recovers the JobEvent from a hub message, whether it came
// from a local broadcast (typed Data) or across the Redis bus (decoded map).
func eventFromMessage(msg sse.Message) (services.JobEvent, bool) {
	switch data := msg.Data.(type) {
	case services.JobEvent:
		return data, true
	default:
		raw, err := json.Marshal(data)
		if err != nil {
			return services.JobEvent{}, false
		}
		var ev services.JobEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return services.JobEvent{}, false
		}
		return ev, ev.JobID != uuid.Nil
	}
}

// jobEventFromRow synthesizes the stream shape from the persisted row so
// polling consumers see exactly what push consumers see.
func jobEventFromRow(job *types.PlanJob) services.JobEvent {
	ev := services.JobEvent{
		JobID:     job.ID,
		Status:    job.Status,
		Stage:     job.StageNumber,
		StageName: job.Stage,
		Message:   job.Message,
	}
	if job.Status == types.JobStatusCompleted && len(job.Result) > 0 {
		var result struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.Unmarshal(job.Result, &result); err == nil && result.ID != uuid.Nil {
			ev.PlanID = &result.ID
		}
	}
	return ev
}
