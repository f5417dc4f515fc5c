package agents

import (
	"fmt"
	"math"

	"github.com/mealforge/mealforge-backend/internal/types"
)

// activityMultipliers maps activity level to its TDEE multiplier. Unlisted
// levels fall back to the moderate multiplier.
var activityMultipliers = map[string]float64{
	types.ActivitySedentary: 1.2,
	types.ActivityLight:     1.375,
	types.ActivityModerate:  1.55,
	types.ActivityVery:      1.725,
	types.ActivityExtra:     1.9,
}

const defaultActivityMultiplier = 1.55

// trainingDayBonusKcal by activity tier: low-output users get a smaller bump
// on training days than high-output ones.
var trainingDayBonusKcal = map[string]float64{
	types.ActivitySedentary: 150,
	types.ActivityLight:     150,
	types.ActivityModerate:  200,
	types.ActivityVery:      300,
	types.ActivityExtra:     300,
}

// macroSplits are protein/carb/fat percentage splits by macro style.
var macroSplits = map[string][3]float64{
	"balanced":     {30, 40, 30},
	"high_protein": {40, 30, 30},
	"low_carb":     {35, 25, 40},
	"keto":         {25, 10, 65},
}

const (
	kcalPerGramProtein = 4
	kcalPerGramCarbs   = 4
	kcalPerGramFat     = 9
)

// ComputeMetabolicProfile derives energy and macro targets from a normalized
// intake. Pure: no external state, no failure modes.
//
// BMR is Mifflin-St Jeor: 10*weight + 6.25*height - 5*age, +5 male / -161
// female. Goal calories: cut = TDEE - rate*500, bulk = TDEE + rate*350,
// maintain = TDEE.
func ComputeMetabolicProfile(in types.Intake) types.MetabolicProfile {
	bmr := 10*in.WeightKg + 6.25*in.HeightCm - 5*float64(in.Age)
	if in.Sex == "male" {
		bmr += 5
	} else {
		bmr -= 161
	}

	mult, ok := activityMultipliers[in.ActivityLevel]
	if !ok {
		mult = defaultActivityMultiplier
	}
	tdee := bmr * mult

	var goal float64
	switch in.GoalType {
	case types.GoalCut:
		goal = tdee - in.GoalRate*500
	case types.GoalBulk:
		goal = tdee + in.GoalRate*350
	default:
		goal = tdee
	}

	bonus, ok := trainingDayBonusKcal[in.ActivityLevel]
	if !ok {
		bonus = trainingDayBonusKcal[types.ActivityModerate]
	}

	split, ok := macroSplits[in.MacroStyle]
	if !ok {
		split = macroSplits["balanced"]
	}
	proteinG := goal * split[0] / 100 / kcalPerGramProtein
	carbsG := goal * split[1] / 100 / kcalPerGramCarbs
	fatG := goal * split[2] / 100 / kcalPerGramFat

	return types.MetabolicProfile{
		BMR:                  math.Round(bmr),
		TDEE:                 math.Round(tdee),
		GoalKcal:             math.Round(goal),
		ProteinTargetG:       math.Round(proteinG),
		CarbsTargetG:         math.Round(carbsG),
		FatTargetG:           math.Round(fatG),
		TrainingDayBonusKcal: bonus,
		PerMealKcal:          perMealTargets(math.Round(goal), in.MealsPerDay, in.SnacksPerDay),
	}
}

// perMealTargets splits the daily goal over meal slots. Each snack takes 10%
// of the day; the remainder divides evenly across main meals.
func perMealTargets(goalKcal float64, meals, snacks int) map[string]float64 {
	if meals < 1 {
		meals = 1
	}
	out := make(map[string]float64, meals+snacks)

	snackShare := goalKcal * 0.10
	remaining := goalKcal - float64(snacks)*snackShare
	mealShare := remaining / float64(meals)

	for i := 0; i < meals; i++ {
		out[MealSlotName(i, meals)] = math.Round(mealShare)
	}
	for i := 0; i < snacks; i++ {
		out[fmt.Sprintf("snack_%d", i+1)] = math.Round(snackShare)
	}
	return out
}

// MealSlotName returns the canonical slot label for meal index i out of n
// main meals. Three-meal days use the familiar names.
func MealSlotName(i, n int) string {
	if n == 3 {
		switch i {
		case 0:
			return "breakfast"
		case 1:
			return "lunch"
		default:
			return "dinner"
		}
	}
	return fmt.Sprintf("meal_%d", i+1)
}

// MealSlots lists every slot of a day in serving order.
func MealSlots(meals, snacks int) []string {
	if meals < 1 {
		meals = 1
	}
	out := make([]string, 0, meals+snacks)
	for i := 0; i < meals; i++ {
		out = append(out, MealSlotName(i, meals))
	}
	for i := 0; i < snacks; i++ {
		out = append(out, fmt.Sprintf("snack_%d", i+1))
	}
	return out
}
