package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/mealforge/mealforge-backend/internal/agents"
	"github.com/mealforge/mealforge-backend/internal/clients/redis"
	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/sse"
)

// JobEvent is the wire shape delivered to progress viewers. The polling
// fallback in the stream handler produces the identical shape from the job
// row, so consumers cannot tell which transport served them.
type JobEvent struct {
	JobID     uuid.UUID  `json:"job_id"`
	Status    string     `json:"status"`
	Stage     int        `json:"stage"`
	StageName string     `json:"stage_name"`
	Message   string     `json:"message"`
	PlanID    *uuid.UUID `json:"plan_id,omitempty"`
}

// JobNotifier fans job lifecycle events out to live viewers. Delivery is
// best-effort; the job store stays the source of truth.
type JobNotifier interface {
	JobQueued(ctx context.Context, jobID uuid.UUID)
	JobProgress(ctx context.Context, jobID uuid.UUID, ev agents.ProgressEvent)
}

type jobNotifier struct {
	log *logger.Logger
	hub *sse.Hub
	bus redis.ProgressBus
}

// NewJobNotifier wires the notifier to the Redis bus when one is configured,
// else straight to the in-process hub. With a bus present all publishes go
// through Redis and the forwarder feeds the hub, so events are not duplicated
// for local viewers.
func NewJobNotifier(baseLog *logger.Logger, hub *sse.Hub, bus redis.ProgressBus) JobNotifier {
	return &jobNotifier{
		log: baseLog.With("service", "JobNotifier"),
		hub: hub,
		bus: bus,
	}
}

func (n *jobNotifier) JobQueued(ctx context.Context, jobID uuid.UUID) {
	n.publish(ctx, sse.Message{
		Channel: jobID.String(),
		Event:   sse.EventPlanJobQueued,
		Data: JobEvent{
			JobID:   jobID,
			Status:  "pending",
			Message: "Plan generation queued",
		},
	})
}

func (n *jobNotifier) JobProgress(ctx context.Context, jobID uuid.UUID, ev agents.ProgressEvent) {
	event := sse.EventPlanJobProgress
	switch ev.Status {
	case agents.ProgressCompleted:
		event = sse.EventPlanJobCompleted
	case agents.ProgressFailed:
		event = sse.EventPlanJobFailed
	}
	n.publish(ctx, sse.Message{
		Channel: jobID.String(),
		Event:   event,
		Data: JobEvent{
			JobID:     jobID,
			Status:    ev.Status,
			Stage:     ev.Stage,
			StageName: ev.StageName,
			Message:   ev.Message,
			PlanID:    ev.PlanID,
		},
	})
}

func (n *jobNotifier) publish(ctx context.Context, msg sse.Message) {
	if n.bus != nil {
		if err := n.bus.Publish(ctx, msg); err != nil {
			n.log.Warn("Progress publish failed, broadcasting locally",
				"channel", msg.Channel,
				"event", string(msg.Event),
				"error", err.Error(),
			)
			n.hub.Broadcast(msg)
		}
		return
	}
	n.hub.Broadcast(msg)
}
