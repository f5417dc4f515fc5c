package agents

import (
	"context"
	"fmt"

	"github.com/mealforge/mealforge-backend/internal/activity"
	"github.com/mealforge/mealforge-backend/internal/pkg/httpx"
	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/types"
)

// Pipeline stages in execution order.
const (
	StageNormalize = 1
	StageMetabolic = 2
	StageCurate    = 3
	StageCompile   = 4
	StageQA        = 5
	StageCount     = 5
)

var stageNames = map[int]string{
	StageNormalize: "normalize_intake",
	StageMetabolic: "metabolic_targets",
	StageCurate:    "curate_recipes",
	StageCompile:   "compile_nutrition",
	StageQA:        "qa_validation",
}

// StageName returns the wire name of a pipeline stage.
func StageName(stage int) string {
	if name, ok := stageNames[stage]; ok {
		return name
	}
	return fmt.Sprintf("stage_%d", stage)
}

// StageError is the orchestrator's only failure type. Retryable tells the
// worker whether another attempt can help.
type StageError struct {
	Stage     int
	StageName string
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", e.Stage, e.StageName, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Orchestrator runs the five pipeline stages in fixed order, emitting a
// progress event after each. It never panics past its boundary.
type Orchestrator struct {
	log      *logger.Logger
	curator  *RecipeCurator
	compiler *NutritionCompiler
	qa       *QAValidator
}

func NewOrchestrator(baseLog *logger.Logger, curator *RecipeCurator, compiler *NutritionCompiler, qa *QAValidator) *Orchestrator {
	return &Orchestrator{
		log:      baseLog.With("service", "Orchestrator"),
		curator:  curator,
		compiler: compiler,
		qa:       qa,
	}
}

// Run executes the full pipeline for one intake. On success the terminal
// event carries the plan id; on failure the terminal event is "failed" and
// the returned error is always a *StageError.
func (o *Orchestrator) Run(ctx context.Context, raw types.Intake, provider activity.Provider, sink ProgressSink) (plan *types.ValidatedPlan, err error) {
	stage := StageNormalize
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("Pipeline panic recovered", "stage", stage, "panic", fmt.Sprintf("%v", r))
			err = o.fail(sink, stage, false, fmt.Errorf("panic: %v", r))
			plan = nil
		}
	}()

	in, nErr := NormalizeIntake(raw)
	if nErr != nil {
		return nil, o.fail(sink, stage, false, nErr)
	}
	o.emit(sink, stage, "Intake validated and normalized")

	stage = StageMetabolic
	profile := ComputeMetabolicProfile(in)
	o.emit(sink, stage, fmt.Sprintf("Daily target %d kcal", int(profile.GoalKcal)))

	stage = StageCurate
	days, cErr := o.curator.Curate(ctx, in, profile, provider)
	if cErr != nil {
		return nil, o.fail(sink, stage, httpx.IsRetryableError(cErr), cErr)
	}
	o.emit(sink, stage, fmt.Sprintf("Curated %d days of meals", len(days)))

	stage = StageCompile
	compiled, _, mErr := o.compiler.Compile(ctx, days)
	if mErr != nil {
		return nil, o.fail(sink, stage, httpx.IsRetryableError(mErr), mErr)
	}
	o.emit(sink, stage, "Nutrition verified against food database")

	stage = StageQA
	validated := o.qa.Validate(in, compiled)
	sink.Publish(ProgressEvent{
		Status:    ProgressCompleted,
		Stage:     StageQA,
		StageName: StageName(StageQA),
		Message:   fmt.Sprintf("Plan ready (%s, score %d)", validated.QA.Status, validated.QA.Score),
		PlanID:    &validated.ID,
	})
	return &validated, nil
}

func (o *Orchestrator) emit(sink ProgressSink, stage int, message string) {
	sink.Publish(ProgressEvent{
		Status:    ProgressRunning,
		Stage:     stage,
		StageName: StageName(stage),
		Message:   message,
	})
}

func (o *Orchestrator) fail(sink ProgressSink, stage int, retryable bool, cause error) error {
	sink.Publish(ProgressEvent{
		Status:    ProgressFailed,
		Stage:     stage,
		StageName: StageName(stage),
		Message:   "Plan generation failed",
	})
	return &StageError{
		Stage:     stage,
		StageName: StageName(stage),
		Retryable: retryable,
		Err:       cause,
	}
}
