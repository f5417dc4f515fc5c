package types

import (
	"time"

	"github.com/google/uuid"
)

// Confidence tags on compiled meals.
const (
	ConfidenceVerified    = "verified"
	ConfidenceAIEstimated = "ai_estimated"
)

// QA outcomes.
const (
	QAPass = "PASS"
	QAWarn = "WARN"
	QAFail = "FAIL"
)

type Ingredient struct {
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
	Unit     string  `json:"unit"` // "g" or "count"
	FoodDBID string  `json:"food_db_id,omitempty"`
}

// MealDraft is one candidate meal produced by the curator. Macros here are
// estimates until the compiler verifies them.
type MealDraft struct {
	Name           string       `json:"name"`
	Slot           string       `json:"slot"`
	Cuisine        string       `json:"cuisine"`
	PrepMinutes    int          `json:"prep_minutes"`
	CookMinutes    int          `json:"cook_minutes"`
	PrimaryProtein string       `json:"primary_protein"`
	SearchKey      string       `json:"search_key"`
	Tags           []string     `json:"tags,omitempty"`
	TargetKcal     float64      `json:"target_kcal"`
	Estimated      Macros       `json:"estimated"`
	Ingredients    []Ingredient `json:"ingredients"`
}

type DayDraft struct {
	DayNumber     int         `json:"day_number"`
	Weekday       string      `json:"weekday"`
	IsTrainingDay bool        `json:"is_training_day"`
	TargetKcal    float64     `json:"target_kcal"`
	Meals         []MealDraft `json:"meals"`
}

// CompiledMeal is a draft plus verified-or-estimated nutrition.
type CompiledMeal struct {
	MealDraft
	Nutrition    Macros  `json:"nutrition"`
	Confidence   string  `json:"confidence"`
	ServingScale float64 `json:"serving_scale"`
}

type CompiledDay struct {
	DayNumber       int            `json:"day_number"`
	Weekday         string         `json:"weekday"`
	IsTrainingDay   bool           `json:"is_training_day"`
	TargetKcal      float64        `json:"target_kcal"`
	Meals           []CompiledMeal `json:"meals"`
	DailyTotals     Macros         `json:"daily_totals"`
	VarianceKcal    float64        `json:"variance_kcal"`
	VariancePercent float64        `json:"variance_percent"`
}

// GroceryItem carries both the raw aggregated amount and the shopping-rounded
// amount; the rounded amount is never below the raw one.
type GroceryItem struct {
	Name          string  `json:"name"`
	Unit          string  `json:"unit"`
	RawAmount     float64 `json:"raw_amount"`
	RoundedAmount float64 `json:"rounded_amount"`
}

type QAReport struct {
	Status          string   `json:"status"`
	Score           int      `json:"score"`
	AdjustmentsMade []string `json:"adjustments_made"`
}

type ValidatedPlan struct {
	ID             uuid.UUID                `json:"id"`
	Days           []CompiledDay            `json:"days"`
	GroceryList    map[string][]GroceryItem `json:"grocery_list"`
	QA             QAReport                 `json:"qa"`
	WeeklyAverages Macros                   `json:"weekly_averages"`
	CreatedAt      time.Time                `json:"created_at"`
}
