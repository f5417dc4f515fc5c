package agents

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mealforge/mealforge-backend/internal/types"
)

// ValidationError marks intake that can never produce a plan. Jobs are not
// created for it and the worker never retries it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid intake: %s %s", e.Field, e.Reason)
}

var validGoalTypes = map[string]bool{
	types.GoalCut:      true,
	types.GoalBulk:     true,
	types.GoalMaintain: true,
}

var validSexes = map[string]bool{"male": true, "female": true}

// NormalizeIntake canonicalizes a raw intake into its immutable pipeline
// form: enums lowercased, list terms deduped and lowercased, rates and counts
// clamped into sane bounds, defaults filled. Hard-invalid fields return a
// ValidationError.
func NormalizeIntake(raw types.Intake) (types.Intake, error) {
	in := raw

	in.Sex = strings.ToLower(strings.TrimSpace(in.Sex))
	if !validSexes[in.Sex] {
		return types.Intake{}, &ValidationError{Field: "sex", Reason: "must be male or female"}
	}
	if in.Age < 13 || in.Age > 100 {
		return types.Intake{}, &ValidationError{Field: "age", Reason: "must be between 13 and 100"}
	}
	if in.HeightCm < 120 || in.HeightCm > 230 {
		return types.Intake{}, &ValidationError{Field: "height_cm", Reason: "must be between 120 and 230"}
	}
	if in.WeightKg < 35 || in.WeightKg > 300 {
		return types.Intake{}, &ValidationError{Field: "weight_kg", Reason: "must be between 35 and 300"}
	}

	in.GoalType = strings.ToLower(strings.TrimSpace(in.GoalType))
	if !validGoalTypes[in.GoalType] {
		return types.Intake{}, &ValidationError{Field: "goal_type", Reason: "must be cut, bulk or maintain"}
	}
	if in.GoalRate <= 0 {
		in.GoalRate = 0.5
	}
	if in.GoalRate > 2 {
		in.GoalRate = 2
	}
	if in.GoalType == types.GoalMaintain {
		in.GoalRate = 0
	}

	// Unrecognized levels are allowed through; the calculator applies its
	// default multiplier.
	in.ActivityLevel = strings.ToLower(strings.TrimSpace(in.ActivityLevel))
	in.DietaryStyle = strings.ToLower(strings.TrimSpace(in.DietaryStyle))
	in.CookingSkill = strings.ToLower(strings.TrimSpace(in.CookingSkill))

	in.MacroStyle = strings.ToLower(strings.TrimSpace(in.MacroStyle))
	if in.MacroStyle == "" {
		in.MacroStyle = "balanced"
	}

	in.Allergies = normalizeTerms(in.Allergies)
	in.Exclusions = normalizeTerms(in.Exclusions)
	in.CuisinePreferences = normalizeTerms(in.CuisinePreferences)
	in.TrainingDays = normalizeTerms(in.TrainingDays)

	if in.MealsPerDay < 1 {
		in.MealsPerDay = 3
	}
	if in.MealsPerDay > 6 {
		in.MealsPerDay = 6
	}
	if in.SnacksPerDay < 0 {
		in.SnacksPerDay = 0
	}
	if in.SnacksPerDay > 3 {
		in.SnacksPerDay = 3
	}
	if in.PlanDays <= 0 {
		in.PlanDays = 7
	}
	if in.PlanDays > 14 {
		in.PlanDays = 14
	}
	if in.MaxPrepMinutes < 0 {
		in.MaxPrepMinutes = 0
	}

	return in, nil
}

func normalizeTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
