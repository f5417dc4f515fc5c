// Package runtime gives job handlers a single handle for everything that
// touches the job row: progress writes, terminal transitions, heartbeats.
// Centralizing the writes here keeps the status-monotonicity rule (terminal
// statuses absorb) in one place.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/mealforge/mealforge-backend/internal/agents"
	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/repos"
	"github.com/mealforge/mealforge-backend/internal/services"
	"github.com/mealforge/mealforge-backend/internal/types"
)

type Context struct {
	ctx      context.Context
	log      *logger.Logger
	jobs     repos.PlanJobRepo
	notifier services.JobNotifier
	job      *types.PlanJob
}

func New(ctx context.Context, baseLog *logger.Logger, jobs repos.PlanJobRepo, notifier services.JobNotifier, job *types.PlanJob) *Context {
	return &Context{
		ctx:      ctx,
		log:      baseLog.With("job_id", job.ID.String()),
		jobs:     jobs,
		notifier: notifier,
		job:      job,
	}
}

func (c *Context) Ctx() context.Context { return c.ctx }
func (c *Context) Log() *logger.Logger  { return c.log }
func (c *Context) Job() *types.PlanJob  { return c.job }

// Progress records a running-stage update and notifies viewers. Updates
// against a job that already went terminal are dropped.
func (c *Context) Progress(ev agents.ProgressEvent) {
	percent := ev.Stage * 100 / agents.StageCount
	applied, err := c.jobs.UpdateFieldsUnlessTerminal(c.ctx, nil, c.job.ID, map[string]interface{}{
		"status":       types.JobStatusRunning,
		"stage":        ev.StageName,
		"stage_number": ev.Stage,
		"progress":     percent,
		"message":      ev.Message,
	})
	if err != nil {
		c.log.Error("Progress write failed", "stage", ev.StageName, "error", err.Error())
		return
	}
	if applied {
		c.notifier.JobProgress(c.ctx, c.job.ID, ev)
	}
}

// Succeed stores the finished plan and emits the terminal completed event.
// The row is written before the event so a viewer racing the stream can
// always recover the result by polling.
func (c *Context) Succeed(plan *types.ValidatedPlan) error {
	result, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan result: %w", err)
	}
	now := time.Now().UTC()
	applied, err := c.jobs.UpdateFieldsUnlessTerminal(c.ctx, nil, c.job.ID, map[string]interface{}{
		"status":       types.JobStatusCompleted,
		"stage":        agents.StageName(agents.StageQA),
		"stage_number": agents.StageQA,
		"progress":     100,
		"message":      "Plan ready",
		"result":       datatypes.JSON(result),
		"completed_at": &now,
	})
	if err != nil {
		return err
	}
	if !applied {
		c.log.Warn("Job already terminal, success dropped")
		return nil
	}
	c.notifier.JobProgress(c.ctx, c.job.ID, agents.ProgressEvent{
		Status:    agents.ProgressCompleted,
		Stage:     agents.StageQA,
		StageName: agents.StageName(agents.StageQA),
		Message:   "Plan ready",
		PlanID:    &plan.ID,
	})
	return nil
}

// Fail marks the job terminally failed with a user-safe message. The raw
// cause goes to the log, never to the row.
func (c *Context) Fail(userMessage string, cause error) error {
	c.log.Error("Job failed terminally", "error", cause.Error())
	now := time.Now().UTC()
	applied, err := c.jobs.UpdateFieldsUnlessTerminal(c.ctx, nil, c.job.ID, map[string]interface{}{
		"status":        types.JobStatusFailed,
		"message":       userMessage,
		"error":         userMessage,
		"last_error_at": &now,
		"completed_at":  &now,
	})
	if err != nil {
		return err
	}
	if applied {
		c.notifier.JobProgress(c.ctx, c.job.ID, agents.ProgressEvent{
			Status:    agents.ProgressFailed,
			Stage:     c.job.StageNumber,
			StageName: c.job.Stage,
			Message:   userMessage,
		})
	}
	return nil
}

// RequeueForRetry puts the job back on the queue with a delay. Attempts were
// already incremented at claim time, so the row only needs the schedule.
func (c *Context) RequeueForRetry(delay time.Duration, cause error) error {
	now := time.Now().UTC()
	next := now.Add(delay)
	c.log.Warn("Job re-queued for retry",
		"attempts", c.job.Attempts,
		"next_retry_at", next.Format(time.RFC3339),
		"error", cause.Error(),
	)
	_, err := c.jobs.UpdateFieldsUnlessTerminal(c.ctx, nil, c.job.ID, map[string]interface{}{
		"status":        types.JobStatusPending,
		"message":       "Retrying shortly",
		"next_retry_at": &next,
		"last_error_at": &now,
		"locked_at":     nil,
		"heartbeat_at":  nil,
	})
	return err
}

// Heartbeat refreshes the liveness stamp so other workers do not reclaim the
// job while it runs.
func (c *Context) Heartbeat() {
	if err := c.jobs.Heartbeat(c.ctx, nil, c.job.ID); err != nil {
		c.log.Warn("Heartbeat failed", "error", err.Error())
	}
}
