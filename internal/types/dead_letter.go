package types

import (
	"time"

	"github.com/google/uuid"
)

// DeadLetterRecord is written exactly once per job whose retries were
// exhausted (or whose failure was classified fatal).
type DeadLetterRecord struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OriginalJobID uuid.UUID `gorm:"type:uuid;not null;index" json:"original_job_id"`
	FailedReason  string    `gorm:"column:failed_reason" json:"failed_reason"`
	AttemptsMade  int       `gorm:"column:attempts_made;not null" json:"attempts_made"`
	FailedAt      time.Time `gorm:"column:failed_at;not null;index" json:"failed_at"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
}

func (DeadLetterRecord) TableName() string { return "dead_letter" }
