package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mealforge/mealforge-backend/internal/agents"
	"github.com/mealforge/mealforge-backend/internal/jobs"
	"github.com/mealforge/mealforge-backend/internal/jobs/deadletter"
	"github.com/mealforge/mealforge-backend/internal/jobs/runtime"
	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/repos"
	"github.com/mealforge/mealforge-backend/internal/types"
)

type noopNotifier struct {
	failed int
}

func (n *noopNotifier) JobQueued(context.Context, uuid.UUID) {}

func (n *noopNotifier) JobProgress(_ context.Context, _ uuid.UUID, ev agents.ProgressEvent) {
	if ev.Status == agents.ProgressFailed {
		n.failed++
	}
}

type fakeHandler struct {
	kind  string
	err   error
	calls int
}

func (h *fakeHandler) Kind() string {
	if h.kind != "" {
		return h.kind
	}
	return jobs.KindPlanGenerate
}

func (h *fakeHandler) Handle(_ *runtime.Context) error {
	h.calls++
	return h.err
}

type panicHandler struct{}

func (panicHandler) Kind() string { return jobs.KindPlanGenerate }

func (panicHandler) Handle(_ *runtime.Context) error { panic("boom") }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Options{Mode: "development"})
	if err != nil {
		t.Fatalf("init test logger: %v", err)
	}
	return log
}

type poolFixture struct {
	pool     *Pool
	jobs     *repos.MemoryPlanJobRepo
	dlqRepo  *repos.MemoryDeadLetterRepo
	notifier *noopNotifier
}

func newPoolFixture(t *testing.T, cfg Config, handler jobs.Handler) *poolFixture {
	t.Helper()
	log := testLogger(t)
	jobRepo := repos.NewMemoryPlanJobRepo()
	dlqRepo := repos.NewMemoryDeadLetterRepo()
	notifier := &noopNotifier{}
	registry := jobs.NewRegistry()
	registry.Register(handler)
	dlq := deadletter.NewConsumer(log, dlqRepo, jobRepo, notifier, deadletter.Config{})
	return &poolFixture{
		pool:     NewPool(log, cfg, jobRepo, registry, notifier, dlq),
		jobs:     jobRepo,
		dlqRepo:  dlqRepo,
		notifier: notifier,
	}
}

func (f *poolFixture) claimFreshJob(t *testing.T) *types.PlanJob {
	return f.claimFreshJobOfKind(t, types.JobKindPlanGenerate)
}

func (f *poolFixture) claimFreshJobOfKind(t *testing.T, kind string) *types.PlanJob {
	t.Helper()
	ctx := context.Background()
	job := &types.PlanJob{
		ID:      uuid.New(),
		UserID:  uuid.New(),
		Kind:    kind,
		Status:  types.JobStatusPending,
		Payload: []byte(`{}`),
	}
	if err := f.jobs.Create(ctx, nil, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	claimed, err := f.jobs.ClaimNextRunnable(ctx, nil, 3, 5*time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil {
		t.Fatalf("expected to claim the job")
	}
	return claimed
}

func TestExecuteRequeuesRetryableError(t *testing.T) {
	stageErr := &agents.StageError{
		Stage:     agents.StageCompile,
		StageName: agents.StageName(agents.StageCompile),
		Retryable: true,
		Err:       fmt.Errorf("upstream timeout"),
	}
	f := newPoolFixture(t, Config{MaxAttempts: 3, RetryBackoffBase: 30 * time.Second}, &fakeHandler{err: stageErr})
	claimed := f.claimFreshJob(t)

	f.pool.execute(context.Background(), f.pool.log, claimed)

	job, err := f.jobs.GetByID(context.Background(), nil, claimed.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != types.JobStatusPending {
		t.Fatalf("status: want=pending got=%q", job.Status)
	}
	if job.NextRetryAt == nil || !job.NextRetryAt.After(time.Now()) {
		t.Fatalf("next retry must be scheduled in the future, got %v", job.NextRetryAt)
	}
	records, _ := f.dlqRepo.ListSince(context.Background(), nil, time.Time{})
	if len(records) != 0 {
		t.Fatalf("no dead-letter record expected, got %d", len(records))
	}
}

func TestExecuteDeadLettersFatalError(t *testing.T) {
	stageErr := &agents.StageError{
		Stage:     agents.StageNormalize,
		StageName: agents.StageName(agents.StageNormalize),
		Retryable: false,
		Err:       fmt.Errorf("broken payload"),
	}
	f := newPoolFixture(t, Config{MaxAttempts: 3}, &fakeHandler{err: stageErr})
	claimed := f.claimFreshJob(t)

	f.pool.execute(context.Background(), f.pool.log, claimed)

	job, _ := f.jobs.GetByID(context.Background(), nil, claimed.ID)
	if job.Status != types.JobStatusFailed {
		t.Fatalf("status: want=failed got=%q", job.Status)
	}
	if job.Error != deadletter.UserFacingFailureMessage {
		t.Fatalf("user must see the safe message, got %q", job.Error)
	}
	records, _ := f.dlqRepo.ListSince(context.Background(), nil, time.Time{})
	if len(records) != 1 {
		t.Fatalf("dead-letter records: want=1 got=%d", len(records))
	}
	if records[0].OriginalJobID != claimed.ID {
		t.Fatalf("record job id: want=%s got=%s", claimed.ID, records[0].OriginalJobID)
	}
	if f.notifier.failed != 1 {
		t.Fatalf("failed notifications: want=1 got=%d", f.notifier.failed)
	}
}

func TestExecuteDeadLettersWhenAttemptsExhausted(t *testing.T) {
	stageErr := &agents.StageError{
		Stage:     agents.StageCurate,
		StageName: agents.StageName(agents.StageCurate),
		Retryable: true,
		Err:       fmt.Errorf("flaky backend"),
	}
	f := newPoolFixture(t, Config{MaxAttempts: 1}, &fakeHandler{err: stageErr})
	claimed := f.claimFreshJob(t)

	f.pool.execute(context.Background(), f.pool.log, claimed)

	job, _ := f.jobs.GetByID(context.Background(), nil, claimed.ID)
	if job.Status != types.JobStatusFailed {
		t.Fatalf("status: want=failed got=%q", job.Status)
	}
	records, _ := f.dlqRepo.ListSince(context.Background(), nil, time.Time{})
	if len(records) != 1 {
		t.Fatalf("dead-letter records: want=1 got=%d", len(records))
	}
}

func TestExecuteContainsHandlerPanic(t *testing.T) {
	f := newPoolFixture(t, Config{MaxAttempts: 3, RetryBackoffBase: time.Second}, panicHandler{})
	claimed := f.claimFreshJob(t)

	f.pool.execute(context.Background(), f.pool.log, claimed)

	job, _ := f.jobs.GetByID(context.Background(), nil, claimed.ID)
	if job.Status != types.JobStatusPending {
		t.Fatalf("a panicking handler should be retried, status=%q", job.Status)
	}
}

func TestExecuteDispatchesByJobKind(t *testing.T) {
	handler := &fakeHandler{kind: "plan.refresh"}
	f := newPoolFixture(t, Config{MaxAttempts: 3}, handler)
	claimed := f.claimFreshJobOfKind(t, "plan.refresh")

	f.pool.execute(context.Background(), f.pool.log, claimed)

	if handler.calls != 1 {
		t.Fatalf("handler for the row's kind must run once, got %d calls", handler.calls)
	}
}

func TestExecuteDeadLettersUnknownKindWithoutRetry(t *testing.T) {
	f := newPoolFixture(t, Config{MaxAttempts: 3, RetryBackoffBase: time.Second}, &fakeHandler{})
	claimed := f.claimFreshJobOfKind(t, "plan.bogus")

	f.pool.execute(context.Background(), f.pool.log, claimed)

	job, _ := f.jobs.GetByID(context.Background(), nil, claimed.ID)
	if job.Status != types.JobStatusFailed {
		t.Fatalf("unknown kind must fail immediately, status=%q", job.Status)
	}
	records, _ := f.dlqRepo.ListSince(context.Background(), nil, time.Time{})
	if len(records) != 1 {
		t.Fatalf("dead-letter records: want=1 got=%d", len(records))
	}
}

func TestClaimFixtureIncrementsAttempts(t *testing.T) {
	f := newPoolFixture(t, Config{}, &fakeHandler{})
	claimed := f.claimFreshJob(t)
	if claimed.Attempts != 1 {
		t.Fatalf("attempts after claim: want=1 got=%d", claimed.Attempts)
	}
	if claimed.Status != types.JobStatusRunning {
		t.Fatalf("status after claim: want=running got=%q", claimed.Status)
	}
}
