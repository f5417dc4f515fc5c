package types

// Macros is a nutrition total in kcal and grams. Values stay unrounded while
// they are being summed; rounding happens only at presentation boundaries so
// daily totals remain the exact sum of their meals.
type Macros struct {
	Kcal     float64 `json:"kcal"`
	ProteinG float64 `json:"protein_g"`
	CarbsG   float64 `json:"carbs_g"`
	FatG     float64 `json:"fat_g"`
}

func (m Macros) Add(o Macros) Macros {
	return Macros{
		Kcal:     m.Kcal + o.Kcal,
		ProteinG: m.ProteinG + o.ProteinG,
		CarbsG:   m.CarbsG + o.CarbsG,
		FatG:     m.FatG + o.FatG,
	}
}

func (m Macros) Scale(f float64) Macros {
	return Macros{
		Kcal:     m.Kcal * f,
		ProteinG: m.ProteinG * f,
		CarbsG:   m.CarbsG * f,
		FatG:     m.FatG * f,
	}
}

// MetabolicProfile is derived deterministically from an Intake.
type MetabolicProfile struct {
	BMR                  float64            `json:"bmr"`
	TDEE                 float64            `json:"tdee"`
	GoalKcal             float64            `json:"goal_kcal"`
	ProteinTargetG       float64            `json:"protein_target_g"`
	CarbsTargetG         float64            `json:"carbs_target_g"`
	FatTargetG           float64            `json:"fat_target_g"`
	TrainingDayBonusKcal float64            `json:"training_day_bonus_kcal"`
	PerMealKcal          map[string]float64 `json:"per_meal_kcal"`
}
