package tracking

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MetricKind enumerates the daily dimensions tracked per user.
type MetricKind string

const (
	// MetricKindMeal tracks per-slot meal completion for the day.
	MetricKindMeal MetricKind = "meal"
	// MetricKindWater tracks hydration in milliliters.
	MetricKindWater MetricKind = "water"
	// MetricKindExercise tracks exercise minutes.
	MetricKindExercise MetricKind = "exercise"
	// MetricKindCalorie tracks consumed calories.
	MetricKindCalorie MetricKind = "calorie"
)

const maxIdentifierLength = 190

const dayLayout = "2006-01-02"

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("tracking: invalid user id")
	// ErrInvalidDay indicates that a calendar day value is not a valid date-only string.
	ErrInvalidDay = errors.New("tracking: invalid day")
	// ErrInvalidMetricKind indicates an unrecognized metric kind.
	ErrInvalidMetricKind = errors.New("tracking: invalid metric kind")
)

// AllMetricKinds returns every tracked kind in a stable order.
func AllMetricKinds() []MetricKind {
	return []MetricKind{MetricKindMeal, MetricKindWater, MetricKindExercise, MetricKindCalorie}
}

// ParseMetricKind validates raw input and returns a MetricKind.
func ParseMetricKind(rawInput string) (MetricKind, error) {
	switch MetricKind(strings.ToLower(strings.TrimSpace(rawInput))) {
	case MetricKindMeal:
		return MetricKindMeal, nil
	case MetricKindWater:
		return MetricKindWater, nil
	case MetricKindExercise:
		return MetricKindExercise, nil
	case MetricKindCalorie:
		return MetricKindCalorie, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMetricKind, rawInput)
	}
}

// String returns the underlying kind label.
func (k MetricKind) String() string {
	return string(k)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Day represents a validated date-only calendar day. Callers normalize to the
// user's locale before constructing one; the core never consults wall-clock
// time to decide which day a mutation belongs to.
type Day string

// NewDay validates raw input against the YYYY-MM-DD layout and returns a Day.
func NewDay(rawInput string) (Day, error) {
	trimmed := strings.TrimSpace(rawInput)
	parsed, err := time.Parse(dayLayout, trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDay, rawInput)
	}
	return Day(parsed.Format(dayLayout)), nil
}

// DayOf truncates a timestamp to the calendar day in its location.
func DayOf(moment time.Time) Day {
	return Day(moment.Format(dayLayout))
}

// String returns the canonical YYYY-MM-DD form.
func (d Day) String() string {
	return string(d)
}

// Time returns midnight UTC of the day.
func (d Day) Time() time.Time {
	parsed, _ := time.Parse(dayLayout, string(d))
	return parsed
}

// AddDays returns the day shifted by the given number of calendar days.
func (d Day) AddDays(count int) Day {
	return DayOf(d.Time().AddDate(0, 0, count))
}

// Before reports whether the day precedes the other day.
func (d Day) Before(other Day) bool {
	return string(d) < string(other)
}

// MealStatus captures one meal slot's completion state for a day.
type MealStatus struct {
	SlotID             string `json:"slot_id"`
	CompletedAtSeconds int64  `json:"completed_at_s,omitempty"`
}

// Completed reports whether the slot has been marked done.
func (m MealStatus) Completed() bool {
	return m.CompletedAtSeconds > 0
}

// TrackedMetric models one user's live progress for one metric kind on one
// calendar day. Exactly one row exists per (user_id, metric_kind, day);
// creation is an upsert on the natural key so racing initializers converge.
type TrackedMetric struct {
	UserID           string  `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_metrics_user_day,priority:1"`
	MetricKind       string  `gorm:"column:metric_kind;primaryKey;size:16;not null"`
	Day              string  `gorm:"column:day;primaryKey;size:10;not null;index:idx_metrics_user_day,priority:2"`
	CurrentValue     float64 `gorm:"column:current_value;not null;default:0"`
	TargetValue      float64 `gorm:"column:target_value;not null;default:0"`
	MealsJSON        string  `gorm:"column:meals_json;type:text;not null;default:''"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (TrackedMetric) TableName() string {
	return "tracked_metrics"
}

// MealStatuses decodes the per-slot completion list for meal-kind rows.
func (m TrackedMetric) MealStatuses() ([]MealStatus, error) {
	if strings.TrimSpace(m.MealsJSON) == "" {
		return nil, nil
	}
	var statuses []MealStatus
	if err := json.Unmarshal([]byte(m.MealsJSON), &statuses); err != nil {
		return nil, fmt.Errorf("tracking: decode meal statuses: %w", err)
	}
	return statuses, nil
}

func encodeMealStatuses(statuses []MealStatus) (string, error) {
	if len(statuses) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(statuses)
	if err != nil {
		return "", fmt.Errorf("tracking: encode meal statuses: %w", err)
	}
	return string(encoded), nil
}

// HistorySnapshot is the append-only archival copy of a day's final tracked
// values. Rows are written once per (user_id, metric_kind, day) and never
// updated afterwards; trend reporting reads them, nothing else does.
type HistorySnapshot struct {
	UserID            string  `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_history_user_day,priority:1"`
	MetricKind        string  `gorm:"column:metric_kind;primaryKey;size:16;not null"`
	Day               string  `gorm:"column:day;primaryKey;size:10;not null;index:idx_history_user_day,priority:2"`
	SnapshotID        string  `gorm:"column:snapshot_id;size:190;not null"`
	Value             float64 `gorm:"column:value;not null"`
	Target            float64 `gorm:"column:target;not null"`
	MealsJSON         string  `gorm:"column:meals_json;type:text;not null;default:''"`
	ArchivedAtSeconds int64   `gorm:"column:archived_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (HistorySnapshot) TableName() string {
	return "history_snapshots"
}

// TargetSet carries the per-kind daily goals resolved at initialization time.
// Zero-valued fields mean "no goal known" and fall back to the documented
// defaults below; the resolved numbers are frozen into the day's rows and are
// never recomputed retroactively.
type TargetSet struct {
	WaterML         float64
	ExerciseMinutes float64
	Calories        float64
	MealSlots       []string
}

// Documented fallback targets used when no profile goal is available:
// eight 250 ml glasses of water, the 150 recommended weekly exercise minutes
// apportioned per day and rounded up, and a 2000 kcal baseline.
const (
	DefaultWaterTargetML      = 2000
	DefaultExerciseTargetMins = 22
	DefaultCalorieTarget      = 2000
)

// DefaultMealSlots returns the standard meal slots used when a profile does
// not define its own plan.
func DefaultMealSlots() []string {
	return []string{"breakfast", "lunch", "dinner"}
}

// DefaultTarget returns the fallback daily goal for a kind.
func DefaultTarget(kind MetricKind) float64 {
	switch kind {
	case MetricKindWater:
		return DefaultWaterTargetML
	case MetricKindExercise:
		return DefaultExerciseTargetMins
	case MetricKindCalorie:
		return DefaultCalorieTarget
	case MetricKindMeal:
		return float64(len(DefaultMealSlots()))
	default:
		return 0
	}
}

func (t TargetSet) valueFor(kind MetricKind) float64 {
	switch kind {
	case MetricKindWater:
		if t.WaterML > 0 {
			return t.WaterML
		}
	case MetricKindExercise:
		if t.ExerciseMinutes > 0 {
			return t.ExerciseMinutes
		}
	case MetricKindCalorie:
		if t.Calories > 0 {
			return t.Calories
		}
	case MetricKindMeal:
		if len(t.MealSlots) > 0 {
			return float64(len(t.MealSlots))
		}
	}
	return DefaultTarget(kind)
}

func (t TargetSet) slots() []string {
	if len(t.MealSlots) > 0 {
		return t.MealSlots
	}
	return DefaultMealSlots()
}
