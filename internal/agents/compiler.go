package agents

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/mealforge/mealforge-backend/internal/clients/fooddb"
	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/types"
)

const (
	// Verified macros further than this from the slot target trigger a
	// serving rescale.
	compileVarianceThreshold = 0.20

	minServingScale = 0.5
	maxServingScale = 3.0

	defaultLookupConcurrency = 4
)

// NutritionCompiler verifies curator drafts against the food database. A
// lookup hit replaces the estimate with database macros; a miss or a lookup
// failure keeps the estimate and tags the meal ai_estimated so a database
// outage degrades the plan's confidence, not its delivery.
type NutritionCompiler struct {
	log         *logger.Logger
	foodDB      fooddb.Client
	concurrency int
}

func NewNutritionCompiler(baseLog *logger.Logger, foodDB fooddb.Client, concurrency int) *NutritionCompiler {
	if concurrency <= 0 {
		concurrency = defaultLookupConcurrency
	}
	return &NutritionCompiler{
		log:         baseLog.With("service", "NutritionCompiler"),
		foodDB:      foodDB,
		concurrency: concurrency,
	}
}

// Compile resolves every meal in the draft, computes per-day totals and
// variance against the day target, and returns the compiled days together
// with the across-days macro averages.
func (c *NutritionCompiler) Compile(ctx context.Context, days []types.DayDraft) ([]types.CompiledDay, types.Macros, error) {
	compiled := make([]types.CompiledDay, len(days))
	for i, day := range days {
		compiled[i] = types.CompiledDay{
			DayNumber:     day.DayNumber,
			Weekday:       day.Weekday,
			IsTrainingDay: day.IsTrainingDay,
			TargetKcal:    day.TargetKcal,
			Meals:         make([]types.CompiledMeal, len(day.Meals)),
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency)
	for i, day := range days {
		for j, meal := range day.Meals {
			i, j, meal := i, j, meal
			group.Go(func() error {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				compiled[i].Meals[j] = c.compileMeal(groupCtx, meal)
				return nil
			})
		}
	}
	if err := group.Wait(); err != nil {
		return nil, types.Macros{}, err
	}

	for i := range compiled {
		finalizeDay(&compiled[i])
	}
	return compiled, WeeklyAverages(compiled), nil
}

func (c *NutritionCompiler) compileMeal(ctx context.Context, draft types.MealDraft) types.CompiledMeal {
	meal := types.CompiledMeal{
		MealDraft:    draft,
		Nutrition:    draft.Estimated,
		Confidence:   types.ConfidenceAIEstimated,
		ServingScale: 1.0,
	}

	query := draft.SearchKey
	if query == "" {
		query = draft.Name
	}
	foods, err := c.foodDB.Search(ctx, query)
	if err != nil {
		c.log.Warn("Food lookup failed, keeping estimate",
			"meal", draft.Name,
			"query", query,
			"error", err.Error(),
		)
		return meal
	}
	if len(foods) == 0 {
		return meal
	}

	match := foods[0]
	meal.Nutrition = match.Macros
	meal.Confidence = types.ConfidenceVerified
	for i := range meal.Ingredients {
		if meal.Ingredients[i].FoodDBID == "" {
			meal.Ingredients[i].FoodDBID = match.ID
			break
		}
	}

	if draft.TargetKcal > 0 && match.Macros.Kcal > 0 {
		gap := math.Abs(match.Macros.Kcal-draft.TargetKcal) / draft.TargetKcal
		if gap > compileVarianceThreshold {
			scale := clampScale(draft.TargetKcal / match.Macros.Kcal)
			meal.ServingScale = scale
			meal.Nutrition = match.Macros.Scale(scale)
			scaleIngredients(meal.Ingredients, scale)
		}
	}
	return meal
}

func clampScale(s float64) float64 {
	if s < minServingScale {
		return minServingScale
	}
	if s > maxServingScale {
		return maxServingScale
	}
	return s
}

func scaleIngredients(ingredients []types.Ingredient, scale float64) {
	for i := range ingredients {
		ingredients[i].Amount = roundAmount(ingredients[i].Amount*scale, ingredients[i].Unit)
	}
}

func roundAmount(v float64, unit string) float64 {
	if unit == "count" {
		// Quarter-count granularity keeps scaled recipes cookable.
		return math.Round(v*4) / 4
	}
	return math.Round(v)
}

// finalizeDay sums meal nutrition in full precision and rounds once at the
// day boundary, so meal rows always add up to the printed total.
func finalizeDay(day *types.CompiledDay) {
	var totals types.Macros
	for _, meal := range day.Meals {
		totals = totals.Add(meal.Nutrition)
	}
	totals.Kcal = math.Round(totals.Kcal)
	totals.ProteinG = math.Round(totals.ProteinG)
	totals.CarbsG = math.Round(totals.CarbsG)
	totals.FatG = math.Round(totals.FatG)
	day.DailyTotals = totals
	day.VarianceKcal = totals.Kcal - day.TargetKcal
	if day.TargetKcal > 0 {
		day.VariancePercent = math.Round(day.VarianceKcal/day.TargetKcal*10000) / 100
	}
}

// WeeklyAverages reports the mean daily macros across the compiled run.
func WeeklyAverages(days []types.CompiledDay) types.Macros {
	if len(days) == 0 {
		return types.Macros{}
	}
	var sum types.Macros
	for _, day := range days {
		sum = sum.Add(day.DailyTotals)
	}
	n := float64(len(days))
	return types.Macros{
		Kcal:     math.Round(sum.Kcal / n),
		ProteinG: math.Round(sum.ProteinG / n),
		CarbsG:   math.Round(sum.CarbsG / n),
		FatG:     math.Round(sum.FatG / n),
	}
}
