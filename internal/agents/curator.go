package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mealforge/mealforge-backend/internal/activity"
	"github.com/mealforge/mealforge-backend/internal/clients/openai"
	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/types"
)

// RecipeCurator drafts one meal per slot per day. The generative backend is
// the primary path; any backend failure degrades to the deterministic local
// generator so an LLM outage never blocks plan generation.
type RecipeCurator struct {
	log *logger.Logger
	llm openai.Client // nil means local generation only
}

func NewRecipeCurator(baseLog *logger.Logger, llm openai.Client) *RecipeCurator {
	return &RecipeCurator{
		log: baseLog.With("agent", "RecipeCurator"),
		llm: llm,
	}
}

// varietyTracker counts proteins and cuisines used so far in a run so
// repeats across days are penalized.
type varietyTracker struct {
	proteins map[string]int
	cuisines map[string]int
}

func newVarietyTracker() *varietyTracker {
	return &varietyTracker{
		proteins: make(map[string]int),
		cuisines: make(map[string]int),
	}
}

func (v *varietyTracker) record(meal types.MealDraft) {
	if p := strings.ToLower(meal.PrimaryProtein); p != "" {
		v.proteins[p]++
	}
	if c := strings.ToLower(meal.Cuisine); c != "" {
		v.cuisines[c]++
	}
}

// Curate produces the full draft plan. Structural guarantees hold on both
// paths: every day present, every slot filled, no excluded terms.
func (c *RecipeCurator) Curate(ctx context.Context, in types.Intake, profile types.MetabolicProfile, provider activity.Provider) ([]types.DayDraft, error) {
	if provider == nil {
		provider = activity.NewStaticSchedule(in.TrainingDays)
	}
	excluded := effectiveExclusions(in)

	days := c.dayShells(ctx, in, profile, provider)

	var llmDays map[int][]types.MealDraft
	if c.llm != nil {
		generated, err := c.generateWithLLM(ctx, in, profile, days)
		if err != nil {
			c.log.Warn("Generative backend unavailable, using local generator", "error", err)
		} else {
			llmDays = generated
		}
	}

	tracker := newVarietyTracker()
	for i := range days {
		day := &days[i]
		slots := MealSlots(in.MealsPerDay, in.SnacksPerDay)
		slotTargets := perSlotTargets(profile, in, day.IsTrainingDay)

		bySlot := map[string]types.MealDraft{}
		for _, m := range llmDays[day.DayNumber] {
			bySlot[m.Slot] = m
		}

		for _, slot := range slots {
			target := slotTargets[slot]
			meal, ok := bySlot[slot]
			if ok && !containsExcludedTerm(meal, excluded) {
				meal.TargetKcal = target
				day.Meals = append(day.Meals, meal)
				tracker.record(meal)
				continue
			}
			// Slot missing from the LLM draft or draft violates an
			// exclusion: fill locally.
			local, err := c.localMeal(slot, target, in, excluded, tracker)
			if err != nil {
				return nil, fmt.Errorf("local generation for slot %s: %w", slot, err)
			}
			day.Meals = append(day.Meals, local)
			tracker.record(local)
		}
	}
	return days, nil
}

func (c *RecipeCurator) dayShells(ctx context.Context, in types.Intake, profile types.MetabolicProfile, provider activity.Provider) []types.DayDraft {
	start := time.Now().Truncate(24 * time.Hour)
	days := make([]types.DayDraft, in.PlanDays)
	for i := range days {
		date := start.AddDate(0, 0, i)
		training := false
		rec, err := provider.FetchActivity(ctx, date)
		if err != nil {
			c.log.Warn("Activity provider failed, assuming rest day", "provider", provider.Name(), "error", err)
		} else {
			training = rec.TrainingDay
		}
		target := profile.GoalKcal
		if training {
			target += profile.TrainingDayBonusKcal
		}
		days[i] = types.DayDraft{
			DayNumber:     i + 1,
			Weekday:       strings.ToLower(date.Weekday().String()),
			IsTrainingDay: training,
			TargetKcal:    target,
		}
	}
	return days
}

// perSlotTargets spreads the training-day bonus over main meals only.
func perSlotTargets(profile types.MetabolicProfile, in types.Intake, training bool) map[string]float64 {
	out := make(map[string]float64, len(profile.PerMealKcal))
	bonusPerMeal := 0.0
	if training && in.MealsPerDay > 0 {
		bonusPerMeal = profile.TrainingDayBonusKcal / float64(in.MealsPerDay)
	}
	for slot, kcal := range profile.PerMealKcal {
		if strings.HasPrefix(slot, "snack_") {
			out[slot] = kcal
		} else {
			out[slot] = kcal + bonusPerMeal
		}
	}
	return out
}

// effectiveExclusions joins the user's allergy/exclusion terms with the
// ingredient classes disallowed by the dietary style.
func effectiveExclusions(in types.Intake) []string {
	out := in.ExcludedTerms()
	out = append(out, dietaryDisallowedTerms(in.DietaryStyle)...)
	return out
}

var dietaryClassTerms = map[string][]string{
	"vegetarian":  {"chicken", "beef", "pork", "turkey", "lamb", "bacon", "ham", "fish", "salmon", "tuna", "shrimp"},
	"vegan":       {"chicken", "beef", "pork", "turkey", "lamb", "bacon", "ham", "fish", "salmon", "tuna", "shrimp", "egg", "cheese", "yogurt", "milk", "butter", "honey"},
	"pescatarian": {"chicken", "beef", "pork", "turkey", "lamb", "bacon", "ham"},
	"halal":       {"pork", "bacon", "ham"},
	"kosher":      {"pork", "bacon", "ham", "shrimp", "shellfish"},
}

func dietaryDisallowedTerms(style string) []string {
	return dietaryClassTerms[strings.ToLower(style)]
}

// containsExcludedTerm checks name, primary protein, tags and ingredient
// names with case-insensitive substring matching.
func containsExcludedTerm(meal types.MealDraft, excluded []string) bool {
	if len(excluded) == 0 {
		return false
	}
	fields := make([]string, 0, 2+len(meal.Tags)+len(meal.Ingredients))
	fields = append(fields, strings.ToLower(meal.Name), strings.ToLower(meal.PrimaryProtein))
	for _, t := range meal.Tags {
		fields = append(fields, strings.ToLower(t))
	}
	for _, ing := range meal.Ingredients {
		fields = append(fields, strings.ToLower(ing.Name))
	}
	for _, term := range excluded {
		for _, f := range fields {
			if f != "" && strings.Contains(f, term) {
				return true
			}
		}
	}
	return false
}

const curatorSystemPrompt = `You are a meal-planning assistant. You design realistic named meals with estimated nutrition. Respect every dietary restriction and excluded ingredient absolutely. Respond only with JSON matching the provided schema.`

func curatorSchema() map[string]any {
	ingredient := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":     map[string]any{"type": "string"},
			"category": map[string]any{"type": "string"},
			"amount":   map[string]any{"type": "number"},
			"unit":     map[string]any{"type": "string", "enum": []string{"g", "count"}},
		},
		"required":             []string{"name", "category", "amount", "unit"},
		"additionalProperties": false,
	}
	meal := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":            map[string]any{"type": "string"},
			"slot":            map[string]any{"type": "string"},
			"cuisine":         map[string]any{"type": "string"},
			"prep_minutes":    map[string]any{"type": "integer"},
			"cook_minutes":    map[string]any{"type": "integer"},
			"primary_protein": map[string]any{"type": "string"},
			"search_key":      map[string]any{"type": "string"},
			"tags":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"kcal":            map[string]any{"type": "number"},
			"protein_g":       map[string]any{"type": "number"},
			"carbs_g":         map[string]any{"type": "number"},
			"fat_g":           map[string]any{"type": "number"},
			"ingredients":     map[string]any{"type": "array", "items": ingredient},
		},
		"required":             []string{"name", "slot", "cuisine", "prep_minutes", "cook_minutes", "primary_protein", "search_key", "tags", "kcal", "protein_g", "carbs_g", "fat_g", "ingredients"},
		"additionalProperties": false,
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"days": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"day_number": map[string]any{"type": "integer"},
						"meals":      map[string]any{"type": "array", "items": meal},
					},
					"required":             []string{"day_number", "meals"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"days"},
		"additionalProperties": false,
	}
}

func (c *RecipeCurator) generateWithLLM(ctx context.Context, in types.Intake, profile types.MetabolicProfile, days []types.DayDraft) (map[int][]types.MealDraft, error) {
	userPrompt, err := buildCuratorPrompt(in, profile, days)
	if err != nil {
		return nil, err
	}
	obj, err := c.llm.GenerateJSON(ctx, curatorSystemPrompt, userPrompt, "meal_plan_draft", curatorSchema())
	if err != nil {
		return nil, err
	}
	return coercePlanDraft(obj)
}

func buildCuratorPrompt(in types.Intake, profile types.MetabolicProfile, days []types.DayDraft) (string, error) {
	req := map[string]any{
		"plan_days":           in.PlanDays,
		"meals_per_day":       in.MealsPerDay,
		"snacks_per_day":      in.SnacksPerDay,
		"slots":               MealSlots(in.MealsPerDay, in.SnacksPerDay),
		"dietary_style":       in.DietaryStyle,
		"excluded_terms":      effectiveExclusions(in),
		"cuisine_preferences": in.CuisinePreferences,
		"cooking_skill":       in.CookingSkill,
		"max_prep_minutes":    in.MaxPrepMinutes,
		"per_meal_kcal":       profile.PerMealKcal,
	}
	dayInfo := make([]map[string]any, 0, len(days))
	for _, d := range days {
		dayInfo = append(dayInfo, map[string]any{
			"day_number":      d.DayNumber,
			"weekday":         d.Weekday,
			"is_training_day": d.IsTrainingDay,
			"target_kcal":     d.TargetKcal,
		})
	}
	req["days"] = dayInfo
	raw, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return "Draft one meal per slot per day for this request. Vary proteins and cuisines across days.\n" + string(raw), nil
}

func coercePlanDraft(obj map[string]any) (map[int][]types.MealDraft, error) {
	rawDays, ok := obj["days"].([]any)
	if !ok || len(rawDays) == 0 {
		return nil, fmt.Errorf("draft missing days")
	}
	out := make(map[int][]types.MealDraft, len(rawDays))
	for _, rd := range rawDays {
		dm, ok := rd.(map[string]any)
		if !ok {
			continue
		}
		dayNum := int(asFloat(dm["day_number"]))
		rawMeals, _ := dm["meals"].([]any)
		for _, rm := range rawMeals {
			mm, ok := rm.(map[string]any)
			if !ok {
				continue
			}
			meal := coerceMealDraft(mm)
			if meal.Name == "" || meal.Slot == "" {
				continue
			}
			out[dayNum] = append(out[dayNum], meal)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("draft contained no usable meals")
	}
	return out, nil
}

func coerceMealDraft(mm map[string]any) types.MealDraft {
	meal := types.MealDraft{
		Name:           strings.TrimSpace(asString(mm["name"])),
		Slot:           strings.ToLower(strings.TrimSpace(asString(mm["slot"]))),
		Cuisine:        strings.ToLower(strings.TrimSpace(asString(mm["cuisine"]))),
		PrepMinutes:    int(asFloat(mm["prep_minutes"])),
		CookMinutes:    int(asFloat(mm["cook_minutes"])),
		PrimaryProtein: strings.ToLower(strings.TrimSpace(asString(mm["primary_protein"]))),
		SearchKey:      strings.TrimSpace(asString(mm["search_key"])),
		Estimated: types.Macros{
			Kcal:     asFloat(mm["kcal"]),
			ProteinG: asFloat(mm["protein_g"]),
			CarbsG:   asFloat(mm["carbs_g"]),
			FatG:     asFloat(mm["fat_g"]),
		},
	}
	if meal.SearchKey == "" {
		meal.SearchKey = meal.Name
	}
	if rawTags, ok := mm["tags"].([]any); ok {
		for _, t := range rawTags {
			if s := strings.ToLower(strings.TrimSpace(asString(t))); s != "" {
				meal.Tags = append(meal.Tags, s)
			}
		}
	}
	if rawIngs, ok := mm["ingredients"].([]any); ok {
		for _, ri := range rawIngs {
			im, ok := ri.(map[string]any)
			if !ok {
				continue
			}
			ing := types.Ingredient{
				Name:     strings.ToLower(strings.TrimSpace(asString(im["name"]))),
				Category: strings.ToLower(strings.TrimSpace(asString(im["category"]))),
				Amount:   asFloat(im["amount"]),
				Unit:     strings.ToLower(strings.TrimSpace(asString(im["unit"]))),
			}
			if ing.Name == "" || ing.Amount <= 0 {
				continue
			}
			if ing.Unit != "count" {
				ing.Unit = "g"
			}
			if ing.Category == "" {
				ing.Category = "pantry"
			}
			meal.Ingredients = append(meal.Ingredients, ing)
		}
	}
	return meal
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}
