// Package worker runs the durable job loop: claim, execute, classify the
// outcome, re-queue or dead-letter.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mealforge/mealforge-backend/internal/agents"
	"github.com/mealforge/mealforge-backend/internal/jobs"
	"github.com/mealforge/mealforge-backend/internal/jobs/deadletter"
	"github.com/mealforge/mealforge-backend/internal/jobs/runtime"
	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/repos"
	"github.com/mealforge/mealforge-backend/internal/services"
	"github.com/mealforge/mealforge-backend/internal/types"
)

type Config struct {
	Workers            int
	PollInterval       time.Duration
	MaxAttempts        int
	RetryBackoffBase   time.Duration
	StaleRunning       time.Duration
	HeartbeatInterval  time.Duration
	JanitorInterval    time.Duration
	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoffBase <= 0 {
		c.RetryBackoffBase = 30 * time.Second
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = 5 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = 10 * time.Minute
	}
	if c.CompletedRetention <= 0 {
		c.CompletedRetention = 6 * time.Hour
	}
	if c.FailedRetention <= 0 {
		c.FailedRetention = 7 * 24 * time.Hour
	}
	return c
}

// Pool is a fixed set of goroutines each pulling one job at a time from the
// store. Concurrency comes from pool slots; a job's own stages may still
// parallelize internally.
type Pool struct {
	log      *logger.Logger
	cfg      Config
	jobs     repos.PlanJobRepo
	registry *jobs.Registry
	notifier services.JobNotifier
	dlq      *deadletter.Consumer

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewPool(baseLog *logger.Logger, cfg Config, jobRepo repos.PlanJobRepo, registry *jobs.Registry, notifier services.JobNotifier, dlq *deadletter.Consumer) *Pool {
	return &Pool{
		log:      baseLog.With("component", "WorkerPool"),
		cfg:      cfg.withDefaults(),
		jobs:     jobRepo,
		registry: registry,
		notifier: notifier,
		dlq:      dlq,
	}
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}
	p.wg.Add(1)
	go p.janitorLoop(ctx)
	p.log.Info("Worker pool started", "workers", p.cfg.Workers)
}

// Stop cancels the loops and waits for in-flight jobs to finish their
// current execution.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info("Worker pool stopped")
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With("worker", id)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx, log)
		}
	}
}

// drain claims and executes jobs until the queue is empty, so a burst does
// not pay one poll interval per job.
func (p *Pool) drain(ctx context.Context, log *logger.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.jobs.ClaimNextRunnable(ctx, nil, p.cfg.MaxAttempts, p.cfg.StaleRunning)
		if err != nil {
			log.Error("Claim failed", "error", err.Error())
			return
		}
		if job == nil {
			return
		}
		p.execute(ctx, log, job)
	}
}

func (p *Pool) execute(ctx context.Context, log *logger.Logger, job *types.PlanJob) {
	rc := runtime.New(ctx, log, p.jobs, p.notifier, job)

	stopHeartbeat := make(chan struct{})
	go func() {
		ticker := time.NewTicker(p.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopHeartbeat:
				return
			case <-ticker.C:
				rc.Heartbeat()
			}
		}
	}()

	err := p.runHandler(rc, job.Kind)
	close(stopHeartbeat)
	if err == nil {
		return
	}

	retryable := true
	var stageErr *agents.StageError
	switch {
	case errors.As(err, &stageErr):
		retryable = stageErr.Retryable
	case errors.Is(err, jobs.ErrUnknownKind):
		retryable = false
		log.Error("Claimed job has no handler", "job_id", job.ID.String(), "kind", job.Kind)
	default:
		log.Error("Unexpected handler error", "job_id", job.ID.String(), "error", err.Error())
	}

	if retryable && job.Attempts < p.cfg.MaxAttempts {
		backoff := p.cfg.RetryBackoffBase << (job.Attempts - 1)
		if rErr := rc.RequeueForRetry(backoff, err); rErr != nil {
			log.Error("Re-queue failed", "job_id", job.ID.String(), "error", rErr.Error())
		}
		return
	}
	p.dlq.Consume(ctx, job, err)
}

// runHandler resolves the handler from the kind stored on the job row and
// invokes it, converting panics into errors so one bad job never takes a
// worker slot down. Rows from before the kind column default to the plan
// generator.
func (p *Pool) runHandler(rc *runtime.Context, kind string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	if kind == "" {
		kind = jobs.KindPlanGenerate
	}
	handler, err := p.registry.Resolve(kind)
	if err != nil {
		return err
	}
	return handler.Handle(rc)
}

func (p *Pool) janitorLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.purge(ctx)
		}
	}
}

// purge applies the retention policy: completed jobs go quickly once the
// client had a chance to pick the result up, failed jobs stay around longer
// for diagnosis.
func (p *Pool) purge(ctx context.Context) {
	now := time.Now().UTC()
	completed, err := p.jobs.DeleteTerminalBefore(ctx, nil, types.JobStatusCompleted, now.Add(-p.cfg.CompletedRetention))
	if err != nil {
		p.log.Warn("Retention purge failed", "status", types.JobStatusCompleted, "error", err.Error())
	}
	failed, err := p.jobs.DeleteTerminalBefore(ctx, nil, types.JobStatusFailed, now.Add(-p.cfg.FailedRetention))
	if err != nil {
		p.log.Warn("Retention purge failed", "status", types.JobStatusFailed, "error", err.Error())
	}
	if completed+failed > 0 {
		p.log.Info("Retention purge", "completed_removed", completed, "failed_removed", failed)
	}
}
