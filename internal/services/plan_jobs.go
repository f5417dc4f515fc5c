package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mealforge/mealforge-backend/internal/agents"
	"github.com/mealforge/mealforge-backend/internal/pkg/ctxutil"
	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/repos"
	"github.com/mealforge/mealforge-backend/internal/types"
)

// ActiveJobError rejects a duplicate submission and carries the id of the
// job already in flight so the caller can attach to it.
type ActiveJobError struct {
	ExistingID uuid.UUID
}

func (e *ActiveJobError) Error() string {
	return fmt.Sprintf("an active plan job already exists: %s", e.ExistingID)
}

// PlanJobService admits plan-generation jobs and reads their state.
type PlanJobService struct {
	log      *logger.Logger
	db       *gorm.DB
	jobs     repos.PlanJobRepo
	notifier JobNotifier
}

func NewPlanJobService(baseLog *logger.Logger, db *gorm.DB, jobs repos.PlanJobRepo, notifier JobNotifier) *PlanJobService {
	return &PlanJobService{
		log:      baseLog.With("service", "PlanJobService"),
		db:       db,
		jobs:     jobs,
		notifier: notifier,
	}
}

// Submit validates the intake, enforces one in-flight job per user, and
// creates the pending job row the worker pool will claim. Validation
// failures never create a job.
func (s *PlanJobService) Submit(ctx context.Context, userID uuid.UUID, raw types.Intake) (*types.PlanJob, error) {
	normalized, err := agents.NormalizeIntake(raw)
	if err != nil {
		return nil, err
	}

	var job *types.PlanJob
	txErr := s.transaction(ctx, func(tx *gorm.DB) error {
		existing, gErr := s.jobs.GetActiveByUser(ctx, tx, userID)
		if gErr != nil {
			return gErr
		}
		if existing != nil {
			return &ActiveJobError{ExistingID: existing.ID}
		}

		jobID := uuid.New()
		payload, mErr := json.Marshal(types.PlanTaskPayload{
			JobID:  jobID,
			UserID: userID,
			Intake: normalized,
		})
		if mErr != nil {
			return fmt.Errorf("failed to marshal task payload: %w", mErr)
		}

		job = &types.PlanJob{
			ID:      jobID,
			UserID:  userID,
			Kind:    types.JobKindPlanGenerate,
			Status:  types.JobStatusPending,
			Message: "Plan generation queued",
			Payload: payload,
		}
		return s.jobs.Create(ctx, tx, job)
	})
	if txErr != nil {
		return nil, txErr
	}

	s.log.Info("Plan job admitted",
		"job_id", job.ID,
		"user_id", userID,
		"request_id", ctxutil.RequestID(ctx),
	)
	s.notifier.JobQueued(ctx, job.ID)
	return job, nil
}

// GetByID returns the job row, or nil when it does not exist.
func (s *PlanJobService) GetByID(ctx context.Context, id uuid.UUID) (*types.PlanJob, error) {
	return s.jobs.GetByID(ctx, nil, id)
}

func (s *PlanJobService) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.db == nil {
		return fn(nil)
	}
	return s.db.WithContext(ctx).Transaction(fn)
}
