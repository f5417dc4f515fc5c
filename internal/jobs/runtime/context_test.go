package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mealforge/mealforge-backend/internal/agents"
	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/repos"
	"github.com/mealforge/mealforge-backend/internal/types"
)

type sinkNotifier struct {
	events []agents.ProgressEvent
}

func (n *sinkNotifier) JobQueued(context.Context, uuid.UUID) {}

func (n *sinkNotifier) JobProgress(_ context.Context, _ uuid.UUID, ev agents.ProgressEvent) {
	n.events = append(n.events, ev)
}

func newRuntime(t *testing.T) (*Context, *repos.MemoryPlanJobRepo, *sinkNotifier) {
	t.Helper()
	log, err := logger.New(logger.Options{Mode: "development"})
	if err != nil {
		t.Fatalf("init test logger: %v", err)
	}
	repo := repos.NewMemoryPlanJobRepo()
	job := &types.PlanJob{
		ID:      uuid.New(),
		UserID:  uuid.New(),
		Status:  types.JobStatusRunning,
		Payload: []byte(`{}`),
	}
	if cErr := repo.Create(context.Background(), nil, job); cErr != nil {
		t.Fatalf("create job: %v", cErr)
	}
	notifier := &sinkNotifier{}
	return New(context.Background(), log, repo, notifier, job), repo, notifier
}

func TestProgressWritesRowAndNotifies(t *testing.T) {
	rc, repo, notifier := newRuntime(t)

	rc.Progress(agents.ProgressEvent{
		Status:    agents.ProgressRunning,
		Stage:     agents.StageCurate,
		StageName: agents.StageName(agents.StageCurate),
		Message:   "Curating",
	})

	job, _ := repo.GetByID(context.Background(), nil, rc.Job().ID)
	if job.Stage != "curate_recipes" || job.StageNumber != agents.StageCurate {
		t.Fatalf("stage fields: stage=%q number=%d", job.Stage, job.StageNumber)
	}
	if job.Progress != agents.StageCurate*100/agents.StageCount {
		t.Fatalf("progress: got=%d", job.Progress)
	}
	if len(notifier.events) != 1 || notifier.events[0].Message != "Curating" {
		t.Fatalf("notifications: %+v", notifier.events)
	}
}

func TestSucceedStoresResultThenEmitsTerminalEvent(t *testing.T) {
	rc, repo, notifier := newRuntime(t)

	plan := &types.ValidatedPlan{ID: uuid.New()}
	if err := rc.Succeed(plan); err != nil {
		t.Fatalf("succeed: %v", err)
	}

	job, _ := repo.GetByID(context.Background(), nil, rc.Job().ID)
	if job.Status != types.JobStatusCompleted || job.Progress != 100 {
		t.Fatalf("row: status=%q progress=%d", job.Status, job.Progress)
	}
	var stored types.ValidatedPlan
	if err := json.Unmarshal(job.Result, &stored); err != nil || stored.ID != plan.ID {
		t.Fatalf("stored result: %v %+v", err, stored)
	}
	if job.CompletedAt == nil {
		t.Fatalf("completed_at must be set")
	}

	if len(notifier.events) != 1 {
		t.Fatalf("events: %+v", notifier.events)
	}
	ev := notifier.events[0]
	if ev.Status != agents.ProgressCompleted || ev.PlanID == nil || *ev.PlanID != plan.ID {
		t.Fatalf("terminal event: %+v", ev)
	}
}

func TestFailAfterSuccessIsAbsorbed(t *testing.T) {
	rc, repo, notifier := newRuntime(t)

	if err := rc.Succeed(&types.ValidatedPlan{ID: uuid.New()}); err != nil {
		t.Fatalf("succeed: %v", err)
	}
	if err := rc.Fail("went wrong", fmt.Errorf("late failure")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	job, _ := repo.GetByID(context.Background(), nil, rc.Job().ID)
	if job.Status != types.JobStatusCompleted {
		t.Fatalf("completed must absorb a late failure, status=%q", job.Status)
	}
	// Only the completion event came through.
	if len(notifier.events) != 1 || notifier.events[0].Status != agents.ProgressCompleted {
		t.Fatalf("events: %+v", notifier.events)
	}
}

func TestRequeueForRetrySchedulesAndClearsLock(t *testing.T) {
	rc, repo, _ := newRuntime(t)

	if err := rc.RequeueForRetry(time.Minute, fmt.Errorf("transient")); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	job, _ := repo.GetByID(context.Background(), nil, rc.Job().ID)
	if job.Status != types.JobStatusPending {
		t.Fatalf("status: want=pending got=%q", job.Status)
	}
	if job.NextRetryAt == nil {
		t.Fatalf("next_retry_at must be set")
	}
	if job.LockedAt != nil || job.HeartbeatAt != nil {
		t.Fatalf("lock fields must be cleared: locked=%v heartbeat=%v", job.LockedAt, job.HeartbeatAt)
	}
}
