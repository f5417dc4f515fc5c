package agents

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mealforge/mealforge-backend/internal/types"
)

//go:embed templates.yaml
var templatesYAML []byte

// mealTemplate is one entry of the embedded template library backing the
// deterministic local generator.
type mealTemplate struct {
	Name           string   `yaml:"name"`
	Slots          []string `yaml:"slots"` // breakfast, lunch, dinner, snack
	Cuisine        string   `yaml:"cuisine"`
	PrimaryProtein string   `yaml:"primary_protein"`
	Tags           []string `yaml:"tags"`
	PrepMinutes    int      `yaml:"prep_minutes"`
	CookMinutes    int      `yaml:"cook_minutes"`
	Kcal           float64  `yaml:"kcal"`
	ProteinG       float64  `yaml:"protein_g"`
	CarbsG         float64  `yaml:"carbs_g"`
	FatG           float64  `yaml:"fat_g"`
	Ingredients    []struct {
		Name     string  `yaml:"name"`
		Category string  `yaml:"category"`
		Amount   float64 `yaml:"amount"`
		Unit     string  `yaml:"unit"`
	} `yaml:"ingredients"`
}

var (
	templatesOnce sync.Once
	templates     []mealTemplate
	templatesErr  error
)

func loadTemplates() ([]mealTemplate, error) {
	templatesOnce.Do(func() {
		var doc struct {
			Templates []mealTemplate `yaml:"templates"`
		}
		if err := yaml.Unmarshal(templatesYAML, &doc); err != nil {
			templatesErr = fmt.Errorf("parse meal templates: %w", err)
			return
		}
		templates = doc.Templates
	})
	return templates, templatesErr
}

// localMeal deterministically picks and portions the best template for a
// slot. Selection is a stable greedy score: preferred cuisines gain, proteins
// and cuisines already used in the run lose, excluded templates are skipped.
func (c *RecipeCurator) localMeal(slot string, targetKcal float64, in types.Intake, excluded []string, tracker *varietyTracker) (types.MealDraft, error) {
	tmpls, err := loadTemplates()
	if err != nil {
		return types.MealDraft{}, err
	}

	kind := slotKind(slot)
	preferred := make(map[string]bool, len(in.CuisinePreferences))
	for _, cu := range in.CuisinePreferences {
		preferred[cu] = true
	}

	var best *mealTemplate
	bestScore := 0
	for i := range tmpls {
		t := &tmpls[i]
		if !templateServes(t, kind) {
			continue
		}
		if in.MaxPrepMinutes > 0 && t.PrepMinutes > in.MaxPrepMinutes {
			continue
		}
		draft := t.toDraft(slot, 1.0)
		if containsExcludedTerm(draft, excluded) {
			continue
		}
		score := 10
		if preferred[strings.ToLower(t.Cuisine)] {
			score += 3
		}
		score -= 2 * tracker.proteins[strings.ToLower(t.PrimaryProtein)]
		score -= tracker.cuisines[strings.ToLower(t.Cuisine)]
		if best == nil || score > bestScore {
			best = t
			bestScore = score
		}
	}
	if best == nil {
		return types.MealDraft{}, fmt.Errorf("no template satisfies exclusions for slot kind %q", kind)
	}

	factor := 1.0
	if best.Kcal > 0 && targetKcal > 0 {
		factor = targetKcal / best.Kcal
		if factor < 0.5 {
			factor = 0.5
		}
		if factor > 3.0 {
			factor = 3.0
		}
	}
	draft := best.toDraft(slot, factor)
	draft.TargetKcal = targetKcal
	return draft, nil
}

func (t *mealTemplate) toDraft(slot string, factor float64) types.MealDraft {
	draft := types.MealDraft{
		Name:           t.Name,
		Slot:           slot,
		Cuisine:        strings.ToLower(t.Cuisine),
		PrepMinutes:    t.PrepMinutes,
		CookMinutes:    t.CookMinutes,
		PrimaryProtein: strings.ToLower(t.PrimaryProtein),
		SearchKey:      t.Name,
		Estimated: types.Macros{
			Kcal:     t.Kcal * factor,
			ProteinG: t.ProteinG * factor,
			CarbsG:   t.CarbsG * factor,
			FatG:     t.FatG * factor,
		},
	}
	for _, tag := range t.Tags {
		draft.Tags = append(draft.Tags, strings.ToLower(tag))
	}
	for _, ing := range t.Ingredients {
		unit := strings.ToLower(ing.Unit)
		if unit != "count" {
			unit = "g"
		}
		draft.Ingredients = append(draft.Ingredients, types.Ingredient{
			Name:     strings.ToLower(ing.Name),
			Category: strings.ToLower(ing.Category),
			Amount:   ing.Amount * factor,
			Unit:     unit,
		})
	}
	return draft
}

// slotKind maps a concrete slot label to the template vocabulary.
func slotKind(slot string) string {
	switch {
	case strings.HasPrefix(slot, "snack"):
		return "snack"
	case slot == "breakfast", slot == "lunch", slot == "dinner":
		return slot
	default:
		return "main"
	}
}

func templateServes(t *mealTemplate, kind string) bool {
	for _, s := range t.Slots {
		s = strings.ToLower(s)
		if s == kind {
			return true
		}
		// Generic main-meal slots accept any non-snack template.
		if kind == "main" && s != "snack" {
			return true
		}
	}
	return false
}
