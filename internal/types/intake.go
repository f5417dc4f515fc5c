package types

// Goal types accepted on intake.
const (
	GoalCut      = "cut"
	GoalBulk     = "bulk"
	GoalMaintain = "maintain"
)

// Activity levels, lowest to highest output.
const (
	ActivitySedentary  = "sedentary"
	ActivityLight      = "lightly_active"
	ActivityModerate   = "moderately_active"
	ActivityVery       = "very_active"
	ActivityExtra      = "extra_active"
)

// Intake is the canonical form of a user's plan request. It is produced once
// by the intake normalizer and treated as immutable by every later stage.
type Intake struct {
	Sex           string  `json:"sex"`
	Age           int     `json:"age"`
	HeightCm      float64 `json:"height_cm"`
	WeightKg      float64 `json:"weight_kg"`
	GoalType      string  `json:"goal_type"`
	GoalRate      float64 `json:"goal_rate"`
	ActivityLevel string  `json:"activity_level"`

	DietaryStyle       string   `json:"dietary_style,omitempty"`
	Allergies          []string `json:"allergies,omitempty"`
	Exclusions         []string `json:"exclusions,omitempty"`
	CuisinePreferences []string `json:"cuisine_preferences,omitempty"`

	MealsPerDay    int    `json:"meals_per_day"`
	SnacksPerDay   int    `json:"snacks_per_day"`
	CookingSkill   string `json:"cooking_skill,omitempty"`
	MaxPrepMinutes int    `json:"max_prep_minutes,omitempty"`
	MacroStyle     string `json:"macro_style"`
	PlanDays       int    `json:"plan_days"`

	// Weekday names ("monday"...) the user trains on; drives the per-day
	// calorie bonus.
	TrainingDays []string `json:"training_days,omitempty"`
}

// ExcludedTerms merges allergies and explicit exclusions; both carry the same
// hard-constraint semantics downstream.
func (in Intake) ExcludedTerms() []string {
	out := make([]string, 0, len(in.Allergies)+len(in.Exclusions))
	out = append(out, in.Allergies...)
	out = append(out, in.Exclusions...)
	return out
}
