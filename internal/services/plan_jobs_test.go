package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mealforge/mealforge-backend/internal/agents"
	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/repos"
	"github.com/mealforge/mealforge-backend/internal/types"
)

type recordingNotifier struct {
	queued   []uuid.UUID
	progress []agents.ProgressEvent
}

func (n *recordingNotifier) JobQueued(_ context.Context, jobID uuid.UUID) {
	n.queued = append(n.queued, jobID)
}

func (n *recordingNotifier) JobProgress(_ context.Context, _ uuid.UUID, ev agents.ProgressEvent) {
	n.progress = append(n.progress, ev)
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Options{Mode: "development"})
	if err != nil {
		t.Fatalf("init test logger: %v", err)
	}
	return log
}

func validIntake() types.Intake {
	return types.Intake{
		Sex:           "male",
		Age:           30,
		HeightCm:      180,
		WeightKg:      80,
		GoalType:      types.GoalCut,
		ActivityLevel: types.ActivityModerate,
	}
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	repo := repos.NewMemoryPlanJobRepo()
	notifier := &recordingNotifier{}
	svc := NewPlanJobService(testLogger(t), nil, repo, notifier)
	userID := uuid.New()

	job, err := svc.Submit(context.Background(), userID, validIntake())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != types.JobStatusPending {
		t.Fatalf("status: want=pending got=%q", job.Status)
	}

	var payload types.PlanTaskPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.JobID != job.ID || payload.UserID != userID {
		t.Fatalf("payload ids: %+v", payload)
	}
	if payload.Intake.GoalRate != 0.5 {
		t.Fatalf("payload intake must be normalized, rate=%v", payload.Intake.GoalRate)
	}
	if len(notifier.queued) != 1 || notifier.queued[0] != job.ID {
		t.Fatalf("queued notification: %v", notifier.queued)
	}
}

func TestSubmitIsIdempotentPerUser(t *testing.T) {
	repo := repos.NewMemoryPlanJobRepo()
	svc := NewPlanJobService(testLogger(t), nil, repo, &recordingNotifier{})
	userID := uuid.New()

	first, err := svc.Submit(context.Background(), userID, validIntake())
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	_, err = svc.Submit(context.Background(), userID, validIntake())
	var active *ActiveJobError
	if !errors.As(err, &active) {
		t.Fatalf("expected ActiveJobError, got %v", err)
	}
	if active.ExistingID != first.ID {
		t.Fatalf("existing id: want=%s got=%s", first.ID, active.ExistingID)
	}

	// A different user is unaffected.
	if _, err := svc.Submit(context.Background(), uuid.New(), validIntake()); err != nil {
		t.Fatalf("other user submit: %v", err)
	}
}

func TestSubmitAllowedAfterTerminalJob(t *testing.T) {
	repo := repos.NewMemoryPlanJobRepo()
	svc := NewPlanJobService(testLogger(t), nil, repo, &recordingNotifier{})
	userID := uuid.New()

	first, err := svc.Submit(context.Background(), userID, validIntake())
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	now := time.Now().UTC()
	if err := repo.UpdateFields(context.Background(), nil, first.ID, map[string]interface{}{
		"status":       types.JobStatusCompleted,
		"completed_at": &now,
	}); err != nil {
		t.Fatalf("complete first job: %v", err)
	}

	second, err := svc.Submit(context.Background(), userID, validIntake())
	if err != nil {
		t.Fatalf("second submit after completion: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected a fresh job id")
	}
}

func TestSubmitRejectsInvalidIntakeWithoutJob(t *testing.T) {
	repo := repos.NewMemoryPlanJobRepo()
	notifier := &recordingNotifier{}
	svc := NewPlanJobService(testLogger(t), nil, repo, notifier)
	userID := uuid.New()

	in := validIntake()
	in.Sex = "unknown"
	_, err := svc.Submit(context.Background(), userID, in)
	var vErr *agents.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	existing, gErr := repo.GetActiveByUser(context.Background(), nil, userID)
	if gErr != nil {
		t.Fatalf("lookup: %v", gErr)
	}
	if existing != nil {
		t.Fatalf("no job should exist after a validation failure")
	}
	if len(notifier.queued) != 0 {
		t.Fatalf("no notification expected, got %v", notifier.queued)
	}
}
