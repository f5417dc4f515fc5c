package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mealforge/mealforge-backend/internal/agents"
	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/repos"
	"github.com/mealforge/mealforge-backend/internal/types"
)

type captureNotifier struct {
	events []agents.ProgressEvent
}

func (n *captureNotifier) JobQueued(context.Context, uuid.UUID) {}

func (n *captureNotifier) JobProgress(_ context.Context, _ uuid.UUID, ev agents.ProgressEvent) {
	n.events = append(n.events, ev)
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Options{Mode: "development"})
	if err != nil {
		t.Fatalf("init test logger: %v", err)
	}
	return log
}

func seedExhaustedJob(t *testing.T, jobRepo *repos.MemoryPlanJobRepo) *types.PlanJob {
	t.Helper()
	job := &types.PlanJob{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Status:   types.JobStatusRunning,
		Stage:    "curate_recipes",
		Attempts: 3,
		Payload:  []byte(`{}`),
	}
	if err := jobRepo.Create(context.Background(), nil, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func TestConsumeCreatesExactlyOneRecordAndFailsJob(t *testing.T) {
	jobRepo := repos.NewMemoryPlanJobRepo()
	dlqRepo := repos.NewMemoryDeadLetterRepo()
	notifier := &captureNotifier{}
	consumer := NewConsumer(testLogger(t), dlqRepo, jobRepo, notifier, Config{})
	job := seedExhaustedJob(t, jobRepo)

	cause := fmt.Errorf("stage 3 (curate_recipes): llm exploded with secret detail")
	consumer.Consume(context.Background(), job, cause)

	records, err := dlqRepo.ListSince(context.Background(), nil, time.Time{})
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records: want=1 got=%d", len(records))
	}
	rec := records[0]
	if rec.OriginalJobID != job.ID || rec.AttemptsMade != 3 {
		t.Fatalf("record fields: %+v", rec)
	}
	if !strings.Contains(rec.FailedReason, "curate_recipes") {
		t.Fatalf("record must keep the diagnostic reason, got %q", rec.FailedReason)
	}

	updated, _ := jobRepo.GetByID(context.Background(), nil, job.ID)
	if updated.Status != types.JobStatusFailed {
		t.Fatalf("status: want=failed got=%q", updated.Status)
	}
	if updated.Error != UserFacingFailureMessage {
		t.Fatalf("job error must be the user-safe message, got %q", updated.Error)
	}
	if strings.Contains(updated.Error, "exploded") {
		t.Fatalf("raw failure text leaked to the user: %q", updated.Error)
	}

	if len(notifier.events) != 1 || notifier.events[0].Status != agents.ProgressFailed {
		t.Fatalf("expected one terminal failed event, got %+v", notifier.events)
	}
}

func TestConsumeDispatchesSignedWebhookOnce(t *testing.T) {
	var calls int32
	var gotAuth string
	var gotPayload AlertPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode alert: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	jobRepo := repos.NewMemoryPlanJobRepo()
	dlqRepo := repos.NewMemoryDeadLetterRepo()
	consumer := NewConsumer(testLogger(t), dlqRepo, jobRepo, &captureNotifier{}, Config{
		WebhookURL:    srv.URL,
		WebhookSecret: "test-secret",
	})
	job := seedExhaustedJob(t, jobRepo)

	consumer.Consume(context.Background(), job, fmt.Errorf("exhausted"))

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("webhook calls: want=1 got=%d", calls)
	}
	if gotPayload.OriginalJobID != job.ID || gotPayload.AttemptsMade != 3 {
		t.Fatalf("alert payload: %+v", gotPayload)
	}
	if gotPayload.FailedReason != "exhausted" {
		t.Fatalf("failed reason: want=exhausted got=%q", gotPayload.FailedReason)
	}

	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Fatalf("missing bearer token, got %q", gotAuth)
	}
	token, err := jwt.Parse(strings.TrimPrefix(gotAuth, "Bearer "), func(tok *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("alert token must verify with the shared secret: %v", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims["iss"] != "mealforge-backend" {
		t.Fatalf("token claims: %+v", token.Claims)
	}
}

func TestConsumeSurvivesWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	jobRepo := repos.NewMemoryPlanJobRepo()
	dlqRepo := repos.NewMemoryDeadLetterRepo()
	consumer := NewConsumer(testLogger(t), dlqRepo, jobRepo, &captureNotifier{}, Config{
		WebhookURL: srv.URL,
	})
	job := seedExhaustedJob(t, jobRepo)

	consumer.Consume(context.Background(), job, fmt.Errorf("exhausted"))

	// The alert failing must not stop the record or the job transition.
	records, _ := dlqRepo.ListSince(context.Background(), nil, time.Time{})
	if len(records) != 1 {
		t.Fatalf("records: want=1 got=%d", len(records))
	}
	updated, _ := jobRepo.GetByID(context.Background(), nil, job.ID)
	if updated.Status != types.JobStatusFailed {
		t.Fatalf("status: want=failed got=%q", updated.Status)
	}
}
