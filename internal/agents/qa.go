package agents

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/types"
)

// QAConfig holds the validator's tuning knobs. These are operational
// settings, not contract: changing them changes how hard the validator
// tries, never the shape of its output.
type QAConfig struct {
	TolerancePercent float64
	MaxIterations    int
	NudgeStep        float64
}

func (c QAConfig) withDefaults() QAConfig {
	if c.TolerancePercent <= 0 {
		c.TolerancePercent = 3.0
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 5
	}
	if c.NudgeStep <= 0 || c.NudgeStep >= 1 {
		c.NudgeStep = 0.05
	}
	return c
}

type qaState string

const (
	qaInitial   qaState = "initial"
	qaAdjusting qaState = "adjusting"
	qaPass      qaState = "pass"
	qaFail      qaState = "fail"
)

// QAValidator is the final gate: it re-checks dietary compliance, nudges
// out-of-tolerance days back toward target, builds the grocery list, and
// scores the plan.
type QAValidator struct {
	log *logger.Logger
	cfg QAConfig
}

func NewQAValidator(baseLog *logger.Logger, cfg QAConfig) *QAValidator {
	return &QAValidator{
		log: baseLog.With("service", "QAValidator"),
		cfg: cfg.withDefaults(),
	}
}

// Validate runs the adjustment loop over the compiled days and assembles the
// final plan. It never fails outright: a plan that cannot be brought within
// tolerance is still returned, with its status and score reflecting that.
func (v *QAValidator) Validate(in types.Intake, days []types.CompiledDay) types.ValidatedPlan {
	adjustments := make([]string, 0)
	excluded := in.ExcludedTerms()

	violations := 0
	for i := range days {
		violations += v.enforceCompliance(&days[i], excluded, &adjustments)
	}

	state := qaInitial
	unresolved := 0
	for i := range days {
		if withinTolerance(&days[i], v.cfg.TolerancePercent) {
			continue
		}
		if state != qaAdjusting {
			state = qaAdjusting
			v.log.Debug("Daily totals out of tolerance, adjusting portions", "state", string(state))
		}
		if !v.nudgeDay(&days[i], &adjustments) {
			unresolved++
			adjustments = append(adjustments, fmt.Sprintf(
				"tolerance: day %d best achievable variance %.2f%% after %d iterations",
				days[i].DayNumber, days[i].VariancePercent, v.cfg.MaxIterations,
			))
		}
	}

	score := v.score(days, violations, unresolved)
	status := types.QAPass
	switch {
	case score < 70:
		status = types.QAFail
		state = qaFail
	case score < 90:
		status = types.QAWarn
		state = qaPass
	default:
		state = qaPass
	}

	v.log.Info("Plan validated",
		"state", string(state),
		"status", status,
		"score", score,
		"adjustments", len(adjustments),
		"unresolved_days", unresolved,
	)

	return types.ValidatedPlan{
		ID:   uuid.New(),
		Days: days,
		GroceryList: BuildGroceryList(days),
		QA: types.QAReport{
			Status:          status,
			Score:           score,
			AdjustmentsMade: adjustments,
		},
		WeeklyAverages: WeeklyAverages(days),
		CreatedAt:      time.Now().UTC(),
	}
}

// enforceCompliance strips ingredients matching an excluded term. Meal-level
// violations (name, protein, tags) cannot be patched here and are recorded
// as-is; they should not occur when the curator did its job.
func (v *QAValidator) enforceCompliance(day *types.CompiledDay, excluded []string, adjustments *[]string) int {
	violations := 0
	for mi := range day.Meals {
		meal := &day.Meals[mi]
		if term := mealViolation(meal, excluded); term != "" {
			violations++
			*adjustments = append(*adjustments, fmt.Sprintf(
				"compliance: day %d meal %q contains excluded term %q",
				day.DayNumber, meal.Name, term,
			))
			continue
		}
		kept := meal.Ingredients[:0]
		for _, ing := range meal.Ingredients {
			term := matchTerm(ing.Name, excluded)
			if term == "" {
				kept = append(kept, ing)
				continue
			}
			*adjustments = append(*adjustments, fmt.Sprintf(
				"compliance: removed %q from day %d meal %q (excluded term %q)",
				ing.Name, day.DayNumber, meal.Name, term,
			))
		}
		meal.Ingredients = kept
	}
	return violations
}

func mealViolation(meal *types.CompiledMeal, excluded []string) string {
	if term := matchTerm(meal.Name, excluded); term != "" {
		return term
	}
	if term := matchTerm(meal.PrimaryProtein, excluded); term != "" {
		return term
	}
	for _, tag := range meal.Tags {
		if term := matchTerm(tag, excluded); term != "" {
			return term
		}
	}
	return ""
}

func matchTerm(field string, excluded []string) string {
	lowered := strings.ToLower(field)
	for _, term := range excluded {
		if term != "" && strings.Contains(lowered, term) {
			return term
		}
	}
	return ""
}

// nudgeDay multiplies every meal's portion by a bounded step toward the day
// target, re-checking after each pass. Returns true once the day lands in
// tolerance.
func (v *QAValidator) nudgeDay(day *types.CompiledDay, adjustments *[]string) bool {
	for iter := 0; iter < v.cfg.MaxIterations; iter++ {
		if day.DailyTotals.Kcal <= 0 || day.TargetKcal <= 0 {
			return false
		}
		factor := day.TargetKcal / day.DailyTotals.Kcal
		if factor > 1+v.cfg.NudgeStep {
			factor = 1 + v.cfg.NudgeStep
		}
		if factor < 1-v.cfg.NudgeStep {
			factor = 1 - v.cfg.NudgeStep
		}
		for mi := range day.Meals {
			meal := &day.Meals[mi]
			scale := clampScale(meal.ServingScale * factor)
			applied := scale / meal.ServingScale
			if applied == 1 {
				continue
			}
			meal.ServingScale = scale
			meal.Nutrition = meal.Nutrition.Scale(applied)
			scaleIngredients(meal.Ingredients, applied)
		}
		finalizeDay(day)
		*adjustments = append(*adjustments, fmt.Sprintf(
			"tolerance: day %d portions scaled by %.3f, variance now %.2f%%",
			day.DayNumber, factor, day.VariancePercent,
		))
		if withinTolerance(day, v.cfg.TolerancePercent) {
			return true
		}
	}
	return false
}

func withinTolerance(day *types.CompiledDay, tolerancePercent float64) bool {
	return math.Abs(day.VariancePercent) <= tolerancePercent
}

func (v *QAValidator) score(days []types.CompiledDay, violations, unresolved int) int {
	score := 100
	score -= violations * 15
	score -= unresolved * 10
	for _, day := range days {
		over := math.Abs(day.VariancePercent) - v.cfg.TolerancePercent
		if over > 0 {
			score -= int(math.Min(over, 5))
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

// BuildGroceryList aggregates ingredients across all days by category,
// merging duplicates before rounding. Quantities only round up: under-buying
// is the failure mode that matters to a shopper.
func BuildGroceryList(days []types.CompiledDay) map[string][]types.GroceryItem {
	type key struct {
		name string
		unit string
	}
	raw := make(map[string]map[key]float64)
	for _, day := range days {
		for _, meal := range day.Meals {
			for _, ing := range meal.Ingredients {
				category := ing.Category
				if category == "" {
					category = "other"
				}
				if raw[category] == nil {
					raw[category] = make(map[key]float64)
				}
				raw[category][key{strings.ToLower(ing.Name), ing.Unit}] += ing.Amount
			}
		}
	}

	out := make(map[string][]types.GroceryItem, len(raw))
	for category, items := range raw {
		list := make([]types.GroceryItem, 0, len(items))
		for k, amount := range items {
			list = append(list, types.GroceryItem{
				Name:          k.name,
				Unit:          k.unit,
				RawAmount:     amount,
				RoundedAmount: RoundUpGrocery(amount, k.unit),
			})
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
		out[category] = list
	}
	return out
}

// RoundUpGrocery snaps an aggregated quantity up to a practical shopping
// step: bulk grams to 50 g, mid-range grams to 10 g, counts to quarter,
// half, or whole units by magnitude.
func RoundUpGrocery(amount float64, unit string) float64 {
	if amount <= 0 {
		return 0
	}
	if unit == "count" {
		switch {
		case amount < 3:
			return math.Ceil(amount*4) / 4
		case amount < 10:
			return math.Ceil(amount*2) / 2
		default:
			return math.Ceil(amount)
		}
	}
	switch {
	case amount >= 1000:
		return math.Ceil(amount/50) * 50
	case amount >= 100:
		return math.Ceil(amount/10) * 10
	default:
		return math.Ceil(amount/5) * 5
	}
}
