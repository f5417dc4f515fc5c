package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/mealforge/mealforge-backend/internal/activity"
	"github.com/mealforge/mealforge-backend/internal/agents"
	"github.com/mealforge/mealforge-backend/internal/jobs"
	"github.com/mealforge/mealforge-backend/internal/jobs/runtime"
	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/types"
)

// PlanGenerate runs the five-stage pipeline for one claimed job. Running
// stage events flow through the runtime context into the job row and the
// progress channel; terminal transitions are owned by Succeed and the
// worker's failure classification, never emitted mid-run.
type PlanGenerate struct {
	log          *logger.Logger
	orchestrator *agents.Orchestrator
}

func NewPlanGenerate(baseLog *logger.Logger, orchestrator *agents.Orchestrator) *PlanGenerate {
	return &PlanGenerate{
		log:          baseLog.With("handler", jobs.KindPlanGenerate),
		orchestrator: orchestrator,
	}
}

func (h *PlanGenerate) Kind() string { return jobs.KindPlanGenerate }

func (h *PlanGenerate) Handle(rc *runtime.Context) error {
	var payload types.PlanTaskPayload
	if err := json.Unmarshal(rc.Job().Payload, &payload); err != nil {
		return &agents.StageError{
			Stage:     agents.StageNormalize,
			StageName: agents.StageName(agents.StageNormalize),
			Retryable: false,
			Err:       fmt.Errorf("failed to decode task payload: %w", err),
		}
	}

	provider := activity.NewStaticSchedule(payload.Intake.TrainingDays)
	sink := agents.SinkFunc(func(ev agents.ProgressEvent) {
		if ev.Status == agents.ProgressRunning {
			rc.Progress(ev)
		}
	})

	plan, err := h.orchestrator.Run(rc.Ctx(), payload.Intake, provider, sink)
	if err != nil {
		return err
	}
	return rc.Succeed(plan)
}
