package profile

import (
	"encoding/json"
	"strings"
)

// Sex labels accepted for basal metabolic rate estimation.
const (
	SexFemale = "female"
	SexMale   = "male"
)

// Activity levels and their total-energy multipliers over the basal rate.
const (
	ActivitySedentary  = "sedentary"
	ActivityLight      = "light"
	ActivityModerate   = "moderate"
	ActivityActive     = "active"
	ActivityVeryActive = "very_active"
)

var activityMultipliers = map[string]float64{
	ActivitySedentary:  1.2,
	ActivityLight:      1.375,
	ActivityModerate:   1.55,
	ActivityActive:     1.725,
	ActivityVeryActive: 1.9,
}

// Profile holds one user's body parameters and goal overrides. Zero-valued
// override fields mean "derive or default"; the tracking layer freezes the
// resolved targets into each day's rows at initialization time.
type Profile struct {
	UserID           string  `gorm:"column:user_id;primaryKey;size:190;not null"`
	WeightKG         float64 `gorm:"column:weight_kg;not null;default:0"`
	HeightCM         float64 `gorm:"column:height_cm;not null;default:0"`
	AgeYears         int     `gorm:"column:age_years;not null;default:0"`
	Sex              string  `gorm:"column:sex;size:16;not null;default:''"`
	ActivityLevel    string  `gorm:"column:activity_level;size:16;not null;default:''"`
	WaterTargetML    float64 `gorm:"column:water_target_ml;not null;default:0"`
	WeeklyExerciseMM float64 `gorm:"column:weekly_exercise_minutes;not null;default:0"`
	CalorieTarget    float64 `gorm:"column:calorie_target;not null;default:0"`
	MealSlotsJSON    string  `gorm:"column:meal_slots_json;type:text;not null;default:''"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Profile) TableName() string {
	return "user_profiles"
}

// MealSlots decodes the configured meal plan, nil when none is set.
func (p Profile) MealSlots() []string {
	if strings.TrimSpace(p.MealSlotsJSON) == "" {
		return nil
	}
	var slots []string
	if err := json.Unmarshal([]byte(p.MealSlotsJSON), &slots); err != nil {
		return nil
	}
	return slots
}

// BasalRate estimates the Mifflin-St Jeor basal metabolic rate in kcal/day,
// or 0 when the body parameters are incomplete.
func (p Profile) BasalRate() float64 {
	if p.WeightKG <= 0 || p.HeightCM <= 0 || p.AgeYears <= 0 {
		return 0
	}
	rate := 10*p.WeightKG + 6.25*p.HeightCM - 5*float64(p.AgeYears)
	switch p.Sex {
	case SexMale:
		rate += 5
	case SexFemale:
		rate -= 161
	default:
		return 0
	}
	return rate
}

// MaintenanceCalories scales the basal rate by the activity multiplier, or 0
// when either input is unknown.
func (p Profile) MaintenanceCalories() float64 {
	basal := p.BasalRate()
	if basal <= 0 {
		return 0
	}
	multiplier, ok := activityMultipliers[p.ActivityLevel]
	if !ok {
		return 0
	}
	return basal * multiplier
}
