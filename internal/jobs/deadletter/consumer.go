// Package deadletter handles jobs whose retries are exhausted: record,
// alert, and close out the job with a user-safe message.
package deadletter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mealforge/mealforge-backend/internal/agents"
	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/repos"
	"github.com/mealforge/mealforge-backend/internal/services"
	"github.com/mealforge/mealforge-backend/internal/types"
)

// UserFacingFailureMessage is the only failure text a job owner ever sees.
const UserFacingFailureMessage = "We couldn't generate your plan. Please try again. Our team has been notified."

type Config struct {
	WebhookURL    string
	WebhookSecret string
	Timeout       time.Duration
}

// AlertPayload is the webhook body sent for every dead-lettered job.
type AlertPayload struct {
	JobID         uuid.UUID `json:"jobId"`
	OriginalJobID uuid.UUID `json:"originalJobId"`
	FailedReason  string    `json:"failedReason"`
	AttemptsMade  int       `json:"attemptsMade"`
	FailedAt      time.Time `json:"failedAt"`
}

type Consumer struct {
	log        *logger.Logger
	records    repos.DeadLetterRepo
	jobs       repos.PlanJobRepo
	notifier   services.JobNotifier
	cfg        Config
	httpClient *http.Client
}

func NewConsumer(baseLog *logger.Logger, records repos.DeadLetterRepo, jobs repos.PlanJobRepo, notifier services.JobNotifier, cfg Config) *Consumer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Consumer{
		log:        baseLog.With("service", "DeadLetterConsumer"),
		records:    records,
		jobs:       jobs,
		notifier:   notifier,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Consume finalizes an exhausted job: exactly one dead-letter record, one
// alert dispatch attempt, and a best-effort terminal update on the job row.
// Nothing in here is allowed to take the worker down; every failure past the
// record insert is logged and swallowed.
func (c *Consumer) Consume(ctx context.Context, job *types.PlanJob, cause error) {
	now := time.Now().UTC()
	record := &types.DeadLetterRecord{
		ID:            uuid.New(),
		OriginalJobID: job.ID,
		FailedReason:  cause.Error(),
		AttemptsMade:  job.Attempts,
		FailedAt:      now,
	}
	if err := c.records.Create(ctx, nil, record); err != nil {
		c.log.Error("Dead-letter record insert failed",
			"job_id", job.ID.String(),
			"error", err.Error(),
		)
		// Still close the job out; losing the record is bad, a zombie
		// job is worse.
	}

	c.log.Error("Plan job dead-lettered",
		"job_id", job.ID.String(),
		"user_id", job.UserID.String(),
		"attempts", job.Attempts,
		"reason", cause.Error(),
	)

	c.alert(ctx, record)

	applied, err := c.jobs.UpdateFieldsUnlessTerminal(ctx, nil, job.ID, map[string]interface{}{
		"status":        types.JobStatusFailed,
		"message":       UserFacingFailureMessage,
		"error":         UserFacingFailureMessage,
		"last_error_at": &now,
		"completed_at":  &now,
	})
	if err != nil {
		c.log.Error("Dead-letter job update failed", "job_id", job.ID.String(), "error", err.Error())
		return
	}
	if applied {
		c.notifier.JobProgress(ctx, job.ID, agents.ProgressEvent{
			Status:    agents.ProgressFailed,
			Stage:     job.StageNumber,
			StageName: job.Stage,
			Message:   UserFacingFailureMessage,
		})
	}
}

// alert dispatches the admin notification: the webhook when configured, else
// a critical log line. Dispatch failures are logged, never propagated.
func (c *Consumer) alert(ctx context.Context, record *types.DeadLetterRecord) {
	payload := AlertPayload{
		JobID:         record.ID,
		OriginalJobID: record.OriginalJobID,
		FailedReason:  record.FailedReason,
		AttemptsMade:  record.AttemptsMade,
		FailedAt:      record.FailedAt,
	}
	if c.cfg.WebhookURL == "" {
		c.log.Error("CRITICAL dead-letter alert (no webhook configured)",
			"original_job_id", payload.OriginalJobID.String(),
			"failed_reason", payload.FailedReason,
			"attempts_made", payload.AttemptsMade,
		)
		return
	}
	if err := c.postWebhook(ctx, payload); err != nil {
		c.log.Error("Dead-letter webhook dispatch failed",
			"original_job_id", payload.OriginalJobID.String(),
			"error", err.Error(),
		)
	}
}

func (c *Consumer) postWebhook(ctx context.Context, payload AlertPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.WebhookSecret != "" {
		token, sErr := c.signToken()
		if sErr != nil {
			return sErr
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook responded %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

func (c *Consumer) signToken() (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iss": "mealforge-backend",
		"sub": "dead-letter-alert",
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.cfg.WebhookSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign alert token: %w", err)
	}
	return signed, nil
}
