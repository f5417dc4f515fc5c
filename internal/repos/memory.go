package repos

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mealforge/mealforge-backend/internal/types"
)

// MemoryPlanJobRepo is the swappable in-memory job store used by tests and
// local runs without a database. It mirrors the claim/retry semantics of the
// gorm implementation; the tx argument is ignored.
type MemoryPlanJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*types.PlanJob
}

func NewMemoryPlanJobRepo() *MemoryPlanJobRepo {
	return &MemoryPlanJobRepo{jobs: make(map[uuid.UUID]*types.PlanJob)}
}

func (r *MemoryPlanJobRepo) Create(ctx context.Context, _ *gorm.DB, job *types.PlanJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
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
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *MemoryPlanJobRepo) GetByID(ctx context.Context, _ *gorm.DB, id uuid.UUID) (*types.PlanJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (r *MemoryPlanJobRepo) GetActiveByUser(ctx context.Context, _ *gorm.DB, userID uuid.UUID) (*types.PlanJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *types.PlanJob
	for _, j := range r.jobs {
		if j.UserID != userID {
			continue
		}
		if j.Status != types.JobStatusPending && j.Status != types.JobStatusRunning {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}
	cp := *oldest
	return &cp, nil
}

func (r *MemoryPlanJobRepo) ClaimNextRunnable(ctx context.Context, _ *gorm.DB, maxAttempts int, staleRunning time.Duration) (*types.PlanJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)

	candidates := make([]*types.PlanJob, 0)
	for _, j := range r.jobs {
		runnable := j.Status == types.JobStatusPending &&
			j.Attempts < maxAttempts &&
			(j.NextRetryAt == nil || !j.NextRetryAt.After(now))
		stale := j.Status == types.JobStatusRunning &&
			j.HeartbeatAt != nil && j.HeartbeatAt.Before(staleCutoff)
		if runnable || stale {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].CreatedAt.Before(candidates[b].CreatedAt)
	})
	j := candidates[0]
	j.Status = types.JobStatusRunning
	j.Attempts++
	j.LockedAt = &now
	j.HeartbeatAt = &now
	j.UpdatedAt = now
	cp := *j
	return &cp, nil
}

func (r *MemoryPlanJobRepo) UpdateFields(ctx context.Context, _ *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil
	}
	applyJobUpdates(j, updates)
	return nil
}

func (r *MemoryPlanJobRepo) UpdateFieldsUnlessTerminal(ctx context.Context, _ *gorm.DB, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	if types.IsTerminalJobStatus(j.Status) {
		return false, nil
	}
	applyJobUpdates(j, updates)
	return true, nil
}

func (r *MemoryPlanJobRepo) Heartbeat(ctx context.Context, _ *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != types.JobStatusRunning {
		return nil
	}
	now := time.Now()
	j.HeartbeatAt = &now
	j.UpdatedAt = now
	return nil
}

func (r *MemoryPlanJobRepo) DeleteTerminalBefore(ctx context.Context, _ *gorm.DB, status string, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !types.IsTerminalJobStatus(status) {
		return 0, nil
	}
	var n int64
	for id, j := range r.jobs {
		if j.Status == status && j.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}

func applyJobUpdates(j *types.PlanJob, updates map[string]interface{}) {
	now := time.Now()
	for k, v := range updates {
		switch k {
		case "status":
			j.Status, _ = v.(string)
		case "stage":
			j.Stage, _ = v.(string)
		case "stage_number":
			if n, ok := v.(int); ok {
				j.StageNumber = n
			}
		case "progress":
			if n, ok := v.(int); ok {
				j.Progress = n
			}
		case "message":
			j.Message, _ = v.(string)
		case "error":
			j.Error, _ = v.(string)
		case "result":
			if res, ok := v.(datatypes.JSON); ok {
				j.Result = res
			}
		case "next_retry_at":
			j.NextRetryAt = toTimePtr(v)
		case "locked_at":
			j.LockedAt = toTimePtr(v)
		case "heartbeat_at":
			j.HeartbeatAt = toTimePtr(v)
		case "last_error_at":
			j.LastErrorAt = toTimePtr(v)
		case "completed_at":
			j.CompletedAt = toTimePtr(v)
		}
	}
	j.UpdatedAt = now
}

func toTimePtr(v interface{}) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		return t
	default:
		return nil
	}
}

// MemoryDeadLetterRepo is the in-memory DeadLetterRepo counterpart.
type MemoryDeadLetterRepo struct {
	mu      sync.Mutex
	records []*types.DeadLetterRecord
}

func NewMemoryDeadLetterRepo() *MemoryDeadLetterRepo {
	return &MemoryDeadLetterRepo{}
}

func (r *MemoryDeadLetterRepo) Create(ctx context.Context, _ *gorm.DB, rec *types.DeadLetterRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec == nil {
		return nil
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	cp := *rec
	r.records = append(r.records, &cp)
	return nil
}

func (r *MemoryDeadLetterRepo) ListSince(ctx context.Context, _ *gorm.DB, since time.Time) ([]*types.DeadLetterRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.DeadLetterRecord, 0, len(r.records))
	for _, rec := range r.records {
		if !rec.FailedAt.Before(since) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}
