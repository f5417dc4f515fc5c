package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/types"
)

type DeadLetterRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rec *types.DeadLetterRecord) error
	ListSince(ctx context.Context, tx *gorm.DB, since time.Time) ([]*types.DeadLetterRecord, error)
}

type deadLetterRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeadLetterRepo(db *gorm.DB, baseLog *logger.Logger) DeadLetterRepo {
	return &deadLetterRepo{
		db:  db,
		log: baseLog.With("repo", "DeadLetterRepo"),
	}
}

func (r *deadLetterRepo) Create(ctx context.Context, tx *gorm.DB, rec *types.DeadLetterRecord) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if rec == nil {
		return nil
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return transaction.WithContext(ctx).Create(rec).Error
}

func (r *deadLetterRepo) ListSince(ctx context.Context, tx *gorm.DB, since time.Time) ([]*types.DeadLetterRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.DeadLetterRecord
	err := transaction.WithContext(ctx).
		Where("failed_at >= ?", since).
		Order("failed_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
