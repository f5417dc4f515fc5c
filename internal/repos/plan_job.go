package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/types"
)

// PlanJobRepo is the job store contract. The gorm implementation below backs
// production; tests use the in-memory implementation in memory.go.
type PlanJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.PlanJob) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PlanJob, error)
	GetActiveByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.PlanJob, error)
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, staleRunning time.Duration) (*types.PlanJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessTerminal(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) (bool, error)
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	DeleteTerminalBefore(ctx context.Context, tx *gorm.DB, status string, cutoff time.Time) (int64, error)
}

type planJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPlanJobRepo(db *gorm.DB, baseLog *logger.Logger) PlanJobRepo {
	return &planJobRepo{
		db:  db,
		log: baseLog.With("repo", "PlanJobRepo"),
	}
}

func (r *planJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.PlanJob) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	return transaction.WithContext(ctx).Create(job).Error
}

func (r *planJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PlanJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.PlanJob
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *planJobRepo) GetActiveByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.PlanJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return nil, nil
	}
	var job types.PlanJob
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []string{types.JobStatusPending, types.JobStatusRunning}).
		Order("created_at ASC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

// ClaimNextRunnable picks up the oldest pending job whose retry delay has
// elapsed, or a running job whose worker stopped heartbeating, and marks it
// running with attempts incremented. Postgres gets FOR UPDATE SKIP LOCKED so
// pooled workers never double-claim.
func (r *planJobRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, staleRunning time.Duration) (*types.PlanJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.PlanJob
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var job types.PlanJob
		q := txx.Where(`
			(
				status = ?
				AND attempts < ?
				AND (next_retry_at IS NULL OR next_retry_at <= ?)
			)
			OR (
				status = ?
				AND heartbeat_at IS NOT NULL
				AND heartbeat_at < ?
			)
		`, types.JobStatusPending, maxAttempts, now, types.JobStatusRunning, staleCutoff).
			Order("created_at ASC")
		if txx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.PlanJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       types.JobStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = types.JobStatusRunning
		job.Attempts++
		job.LockedAt = &now
		job.HeartbeatAt = &now
		job.UpdatedAt = now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *planJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.PlanJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsUnlessTerminal applies updates only while the job is still
// pending or running, keeping completed/failed absorbing. Returns whether the
// update landed.
func (r *planJobRepo) UpdateFieldsUnlessTerminal(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := transaction.WithContext(ctx).
		Model(&types.PlanJob{}).
		Where("id = ? AND status NOT IN ?", id, []string{types.JobStatusCompleted, types.JobStatusFailed}).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *planJobRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.PlanJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

// DeleteTerminalBefore enforces the retention policy: completed jobs are kept
// for hours, failed jobs for days.
func (r *planJobRepo) DeleteTerminalBefore(ctx context.Context, tx *gorm.DB, status string, cutoff time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if !types.IsTerminalJobStatus(status) {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, cutoff).
		Delete(&types.PlanJob{})
	return res.RowsAffected, res.Error
}
