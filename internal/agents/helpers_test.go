package agents

import (
	"testing"

	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Options{Mode: "development"})
	if err != nil {
		t.Fatalf("init test logger: %v", err)
	}
	return log
}

func fixtureIntake() types.Intake {
	return types.Intake{
		Sex:           "male",
		Age:           30,
		HeightCm:      180,
		WeightKg:      80,
		GoalType:      types.GoalCut,
		GoalRate:      0.5,
		ActivityLevel: types.ActivityModerate,
		MacroStyle:    "balanced",
		MealsPerDay:   3,
		SnacksPerDay:  1,
		PlanDays:      7,
	}
}
