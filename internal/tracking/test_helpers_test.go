package tracking

import (
	"context"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustDay(t *testing.T, value string) Day {
	t.Helper()
	day, err := NewDay(value)
	if err != nil {
		t.Fatalf("unexpected day error: %v", err)
	}
	return day
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

func (c *fixedClock) Advance(delta time.Duration) {
	c.now = c.now.Add(delta)
}

type staticTargets struct {
	set TargetSet
	err error
}

func (s *staticTargets) DailyTargets(_ context.Context, _ string) (TargetSet, error) {
	if s.err != nil {
		return TargetSet{}, s.err
	}
	return s.set, nil
}

type capturePublisher struct {
	events []Event
}

func (p *capturePublisher) Publish(event Event) {
	p.events = append(p.events, event)
}

func (p *capturePublisher) byType(eventType string) []Event {
	var matched []Event
	for _, event := range p.events {
		if event.EventType == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

type testHarness struct {
	service *Service
	db      *gorm.DB
	clock   *fixedClock
	events  *capturePublisher
	targets *staticTargets
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&TrackedMetric{}, &HistorySnapshot{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &fixedClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
	events := &capturePublisher{}
	targets := &staticTargets{}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		Targets:    targets,
		Events:     events,
		IDProvider: NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build tracking service: %v", err)
	}

	return &testHarness{
		service: service,
		db:      db,
		clock:   clock,
		events:  events,
		targets: targets,
	}
}

func (h *testHarness) mustMetric(t *testing.T, userID, kind, day string) TrackedMetric {
	t.Helper()
	var row TrackedMetric
	err := h.db.Where("user_id = ? AND metric_kind = ? AND day = ?", userID, kind, day).Take(&row).Error
	if err != nil {
		t.Fatalf("failed to load metric row: %v", err)
	}
	return row
}

func (h *testHarness) countMetrics(t *testing.T, userID, day string) int64 {
	t.Helper()
	var count int64
	err := h.db.Model(&TrackedMetric{}).Where("user_id = ? AND day = ?", userID, day).Count(&count).Error
	if err != nil {
		t.Fatalf("failed to count metric rows: %v", err)
	}
	return count
}

func (h *testHarness) countSnapshots(t *testing.T, userID, day string) int64 {
	t.Helper()
	var count int64
	err := h.db.Model(&HistorySnapshot{}).Where("user_id = ? AND day = ?", userID, day).Count(&count).Error
	if err != nil {
		t.Fatalf("failed to count snapshots: %v", err)
	}
	return count
}
