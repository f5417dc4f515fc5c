package jobs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mealforge/mealforge-backend/internal/jobs/runtime"
	"github.com/mealforge/mealforge-backend/internal/types"
)

// KindPlanGenerate is the only task kind today; the kind column on the job
// row keeps the door open for follow-up jobs (plan refresh, grocery
// re-export) without touching the worker loop.
const KindPlanGenerate = types.JobKindPlanGenerate

// ErrUnknownKind marks a claimed job whose kind has no registered handler.
// Retrying cannot help such a job.
var ErrUnknownKind = errors.New("unknown job kind")

// Handler executes one claimed job to completion or error.
type Handler interface {
	Kind() string
	Handle(rc *runtime.Context) error
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Kind()] = h
}

func (r *Registry) Resolve(kind string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return h, nil
}
