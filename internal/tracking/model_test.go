package tracking

import (
	"testing"
	"time"
)

func TestNewDayAcceptsDateOnlyValues(t *testing.T) {
	day, err := NewDay(" 2026-03-14 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if day.String() != "2026-03-14" {
		t.Fatalf("unexpected day %q", day)
	}
}

func TestNewDayRejectsTimestamps(t *testing.T) {
	invalid := []string{"", "2026-03-14T10:00:00Z", "14-03-2026", "2026-13-40"}
	for _, raw := range invalid {
		if _, err := NewDay(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestDayArithmeticAndOrdering(t *testing.T) {
	day := mustDay(t, "2026-03-01")
	if day.AddDays(-1).String() != "2026-02-28" {
		t.Fatalf("unexpected previous day %q", day.AddDays(-1))
	}
	if day.AddDays(31).String() != "2026-04-01" {
		t.Fatalf("unexpected shifted day %q", day.AddDays(31))
	}
	if !day.Before(mustDay(t, "2026-03-02")) {
		t.Fatalf("expected %q to precede the next day", day)
	}
	if day.Before(day) {
		t.Fatalf("day must not precede itself")
	}
}

func TestDayOfTruncatesToCalendarDay(t *testing.T) {
	moment := time.Date(2026, 3, 14, 23, 59, 59, 0, time.UTC)
	if DayOf(moment).String() != "2026-03-14" {
		t.Fatalf("unexpected day %q", DayOf(moment))
	}
}

func TestParseMetricKind(t *testing.T) {
	for _, kind := range AllMetricKinds() {
		parsed, err := ParseMetricKind(kind.String())
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", kind, err)
		}
		if parsed != kind {
			t.Fatalf("round trip mismatch: %q != %q", parsed, kind)
		}
	}
	if _, err := ParseMetricKind("steps"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestDefaultTargets(t *testing.T) {
	if DefaultTarget(MetricKindWater) != 2000 {
		t.Fatalf("unexpected water default %v", DefaultTarget(MetricKindWater))
	}
	if DefaultTarget(MetricKindExercise) != 22 {
		t.Fatalf("unexpected exercise default %v", DefaultTarget(MetricKindExercise))
	}
	if DefaultTarget(MetricKindCalorie) != 2000 {
		t.Fatalf("unexpected calorie default %v", DefaultTarget(MetricKindCalorie))
	}
	if DefaultTarget(MetricKindMeal) != 3 {
		t.Fatalf("unexpected meal default %v", DefaultTarget(MetricKindMeal))
	}
}

func TestTargetSetFallsBackPerField(t *testing.T) {
	targets := TargetSet{WaterML: 2500}
	if targets.valueFor(MetricKindWater) != 2500 {
		t.Fatalf("expected explicit water goal to win")
	}
	if targets.valueFor(MetricKindExercise) != DefaultTarget(MetricKindExercise) {
		t.Fatalf("expected exercise fallback")
	}
	if len(targets.slots()) != 3 {
		t.Fatalf("expected default meal slots, got %v", targets.slots())
	}
}

func TestMealStatusRoundTrip(t *testing.T) {
	encoded, err := encodeMealStatuses([]MealStatus{
		{SlotID: "breakfast", CompletedAtSeconds: 1700000000},
		{SlotID: "lunch"},
	})
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}

	row := TrackedMetric{MealsJSON: encoded}
	statuses, err := row.MealStatuses()
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Completed() || statuses[1].Completed() {
		t.Fatalf("unexpected completion flags: %#v", statuses)
	}
}
