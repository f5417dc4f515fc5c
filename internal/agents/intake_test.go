package agents

import (
	"errors"
	"testing"

	"github.com/mealforge/mealforge-backend/internal/types"
)

func TestNormalizeIntakeRejectsHardInvalidFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*types.Intake)
		field  string
	}{
		{"bad sex", func(in *types.Intake) { in.Sex = "robot" }, "sex"},
		{"too young", func(in *types.Intake) { in.Age = 12 }, "age"},
		{"too old", func(in *types.Intake) { in.Age = 101 }, "age"},
		{"short", func(in *types.Intake) { in.HeightCm = 100 }, "height_cm"},
		{"heavy", func(in *types.Intake) { in.WeightKg = 400 }, "weight_kg"},
		{"bad goal", func(in *types.Intake) { in.GoalType = "shred" }, "goal_type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := fixtureIntake()
			tc.mutate(&in)
			_, err := NormalizeIntake(in)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Field != tc.field {
				t.Fatalf("field: want=%q got=%q", tc.field, vErr.Field)
			}
		})
	}
}

func TestNormalizeIntakeDefaults(t *testing.T) {
	in := types.Intake{
		Sex:      "Male",
		Age:      30,
		HeightCm: 180,
		WeightKg: 80,
		GoalType: "CUT",
	}
	out, err := NormalizeIntake(in)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out.Sex != "male" || out.GoalType != types.GoalCut {
		t.Fatalf("enums not lowercased: sex=%q goal=%q", out.Sex, out.GoalType)
	}
	if out.GoalRate != 0.5 {
		t.Fatalf("default goal rate: want=0.5 got=%v", out.GoalRate)
	}
	if out.MacroStyle != "balanced" {
		t.Fatalf("default macro style: want=balanced got=%q", out.MacroStyle)
	}
	if out.MealsPerDay != 3 || out.PlanDays != 7 {
		t.Fatalf("default counts: meals=%d days=%d", out.MealsPerDay, out.PlanDays)
	}
}

func TestNormalizeIntakeClampsRatesAndCounts(t *testing.T) {
	in := fixtureIntake()
	in.GoalRate = 9
	in.MealsPerDay = 12
	in.SnacksPerDay = 8
	in.PlanDays = 30
	out, err := NormalizeIntake(in)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out.GoalRate != 2 {
		t.Fatalf("goal rate clamp: want=2 got=%v", out.GoalRate)
	}
	if out.MealsPerDay != 6 || out.SnacksPerDay != 3 || out.PlanDays != 14 {
		t.Fatalf("count clamps: meals=%d snacks=%d days=%d", out.MealsPerDay, out.SnacksPerDay, out.PlanDays)
	}
}

func TestNormalizeIntakeMaintainZeroesRate(t *testing.T) {
	in := fixtureIntake()
	in.GoalType = types.GoalMaintain
	in.GoalRate = 1.5
	out, err := NormalizeIntake(in)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out.GoalRate != 0 {
		t.Fatalf("maintain rate: want=0 got=%v", out.GoalRate)
	}
}

func TestNormalizeIntakeCanonicalizesTerms(t *testing.T) {
	in := fixtureIntake()
	in.Allergies = []string{" Peanut ", "peanut", "SHELLFISH", ""}
	in.Exclusions = []string{"Pork", "pork "}
	out, err := NormalizeIntake(in)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	wantAllergies := []string{"peanut", "shellfish"}
	if len(out.Allergies) != len(wantAllergies) {
		t.Fatalf("allergies: want=%v got=%v", wantAllergies, out.Allergies)
	}
	for i := range wantAllergies {
		if out.Allergies[i] != wantAllergies[i] {
			t.Fatalf("allergies: want=%v got=%v", wantAllergies, out.Allergies)
		}
	}
	if len(out.Exclusions) != 1 || out.Exclusions[0] != "pork" {
		t.Fatalf("exclusions: want=[pork] got=%v", out.Exclusions)
	}
}
