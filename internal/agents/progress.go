package agents

import (
	"github.com/google/uuid"
)

// Progress statuses carried on events. Stage events are "running"; the last
// event for a job is always "completed" or "failed".
const (
	ProgressRunning   = "running"
	ProgressCompleted = "completed"
	ProgressFailed    = "failed"
)

// ProgressEvent is emitted after every pipeline stage. Events for one job are
// published in non-decreasing stage order.
type ProgressEvent struct {
	Status    string     `json:"status"`
	Stage     int        `json:"stage"`
	StageName string     `json:"stage_name"`
	Message   string     `json:"message"`
	PlanID    *uuid.UUID `json:"plan_id,omitempty"`
}

// ProgressSink receives pipeline progress. The orchestrator emits values onto
// this interface; concrete sinks write to the job store, the pub/sub bus, or
// an in-memory slice in tests.
type ProgressSink interface {
	Publish(ev ProgressEvent)
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(ev ProgressEvent)

func (f SinkFunc) Publish(ev ProgressEvent) { f(ev) }

// MemorySink collects events in order; used by tests.
type MemorySink struct {
	Events []ProgressEvent
}

func (s *MemorySink) Publish(ev ProgressEvent) {
	s.Events = append(s.Events, ev)
}
