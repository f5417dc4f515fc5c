package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Plan job statuses. Once a job reaches completed or failed it never leaves
// that status; a retryable failure re-queues the row as pending with
// NextRetryAt set.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

func IsTerminalJobStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// JobKindPlanGenerate is the task kind for a full plan-generation run.
const JobKindPlanGenerate = "plan.generate"

// PlanJob is the persistent record of one plan-generation run. Payload holds
// the queue task ({job_id, user_id, intake}); Result holds the ValidatedPlan
// once the job completes.
type PlanJob struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Kind        string         `gorm:"column:kind;not null;index" json:"kind"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Stage       string         `gorm:"column:stage" json:"stage"`
	StageNumber int            `gorm:"column:stage_number;not null;default:0" json:"stage_number"`
	Progress    int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Message     string         `gorm:"column:message" json:"message"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	NextRetryAt *time.Time     `gorm:"column:next_retry_at;index" json:"next_retry_at,omitempty"`
	LockedAt    *time.Time     `gorm:"column:locked_at" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result      datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (PlanJob) TableName() string { return "plan_job" }

// PlanTaskPayload is the queue task body stored on PlanJob.Payload.
type PlanTaskPayload struct {
	JobID  uuid.UUID `json:"job_id"`
	UserID uuid.UUID `json:"user_id"`
	Intake Intake    `json:"intake"`
}
