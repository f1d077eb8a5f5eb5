package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	defaultCapMultiplier    = 3
	defaultSuccessThreshold = 0.8
)

const (
	opServiceNew  = "tracking.service.new"
	opEnsureDay   = "tracking.ensure_day_initialized"
	opGetCurrent  = "tracking.get_current"
	opApplyDelta  = "tracking.apply_delta"
	opSetTarget   = "tracking.set_target"
	opMarkMeal    = "tracking.mark_meal_complete"
	opResetDay    = "tracking.reset_day"
	opArchiveDay  = "tracking.archive_day"
	opSuccessRate = "tracking.success_rate"
	opDailySeries = "tracking.daily_series"
)

// TargetSource resolves the daily goals for a user at initialization time. A
// zero-valued field in the returned set means "no goal configured" and the
// service substitutes the documented default instead of failing.
type TargetSource interface {
	DailyTargets(ctx context.Context, userID string) (TargetSet, error)
}

// ServiceConfig describes the dependencies of the tracking service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	Targets    TargetSource
	Events     EventPublisher
	IDProvider IDProvider
	Logger     *zap.Logger

	// CapMultiplier bounds current_value at CapMultiplier x target_value.
	// Zero selects the default multiple.
	CapMultiplier float64
	// SuccessThreshold is the fraction of a day's target that counts as a
	// successful day in trend reporting. Zero selects the default of 0.8.
	SuccessThreshold float64
}

// Service owns the daily tracking lifecycle: lazy day-boundary detection,
// bounded mutations of the live rows, archival into history, and the
// read-only trend views.
type Service struct {
	db               *gorm.DB
	clock            func() time.Time
	targets          TargetSource
	events           EventPublisher
	idProvider       IDProvider
	logger           *zap.Logger
	capMultiplier    float64
	successThreshold float64
}

// NewService constructs the tracking service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	capMultiplier := cfg.CapMultiplier
	if capMultiplier <= 0 {
		capMultiplier = defaultCapMultiplier
	}
	successThreshold := cfg.SuccessThreshold
	if successThreshold <= 0 {
		successThreshold = defaultSuccessThreshold
	}

	return &Service{
		db:               cfg.Database,
		clock:            clock,
		targets:          cfg.Targets,
		events:           cfg.Events,
		idProvider:       cfg.IDProvider,
		logger:           logger,
		capMultiplier:    capMultiplier,
		successThreshold: successThreshold,
	}, nil
}

// DayInitResult reports whether a day-boundary initialization ran.
type DayInitResult struct {
	WasReset bool
}

// EnsureDayInitialized detects the day boundary for one user. When rows for
// today already exist it is a fast no-op. Otherwise it archives the most
// recent prior live day, then creates fresh rows for every kind with targets
// frozen from the current profile. A failed store read propagates as a
// retriable error; it is never treated as "not yet initialized".
func (s *Service) EnsureDayInitialized(ctx context.Context, userID UserID, today Day) (DayInitResult, error) {
	if userID.String() == "" {
		return DayInitResult{}, newServiceError(opEnsureDay, "unauthenticated", ErrUnauthenticated)
	}

	var existing int64
	err := s.db.WithContext(ctx).
		Model(&TrackedMetric{}).
		Where("user_id = ? AND day = ?", userID.String(), today.String()).
		Count(&existing).Error
	if err != nil {
		s.logError(opEnsureDay, "existence_check_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("day", today.String()))
		return DayInitResult{}, newServiceError(opEnsureDay, "existence_check_failed", persistenceFailure(err))
	}
	if existing > 0 {
		return DayInitResult{WasReset: false}, nil
	}

	targets, err := s.resolveTargets(ctx, userID)
	if err != nil {
		s.logError(opEnsureDay, "target_resolve_failed", err, zap.String("user_id", userID.String()))
		return DayInitResult{}, newServiceError(opEnsureDay, "target_resolve_failed", persistenceFailure(err))
	}

	now := s.clock().UTC()
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var priorDays []string
		err := tx.Model(&TrackedMetric{}).
			Where("user_id = ? AND day < ?", userID.String(), today.String()).
			Order("day DESC").
			Limit(1).
			Pluck("day", &priorDays).Error
		if err != nil {
			s.logError(opEnsureDay, "prior_day_lookup_failed", err, zap.String("user_id", userID.String()))
			return newServiceError(opEnsureDay, "prior_day_lookup_failed", persistenceFailure(err))
		}

		if len(priorDays) > 0 {
			priorDay := Day(priorDays[0])
			if err := s.archiveDayTx(tx, userID, priorDay, now); err != nil {
				// Fail closed: never create the new day's rows while the
				// prior day's final numbers are unarchived.
				s.logError(opEnsureDay, "archive_failed", err,
					zap.String("user_id", userID.String()),
					zap.String("prior_day", priorDay.String()))
				return newServiceError(opEnsureDay, "archive_failed", err)
			}
		}

		rows := s.freshRows(userID, today, targets, now)
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
			s.logError(opEnsureDay, "row_create_failed", err,
				zap.String("user_id", userID.String()),
				zap.String("day", today.String()))
			return newServiceError(opEnsureDay, "row_create_failed", persistenceFailure(err))
		}
		return nil
	})
	if txErr != nil {
		return DayInitResult{}, txErr
	}

	s.publish(Event{
		UserID:    userID.String(),
		EventType: EventDayStarted,
		Day:       today.String(),
		Timestamp: now,
	})
	return DayInitResult{WasReset: true}, nil
}

// GetCurrent returns today's live record for one kind, initializing the day
// first when it has not been seen yet.
func (s *Service) GetCurrent(ctx context.Context, userID UserID, today Day, kind MetricKind) (TrackedMetric, error) {
	if _, err := s.EnsureDayInitialized(ctx, userID, today); err != nil {
		return TrackedMetric{}, err
	}

	var row TrackedMetric
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND metric_kind = ? AND day = ?", userID.String(), kind.String(), today.String()).
		Take(&row).Error
	if err != nil {
		s.logError(opGetCurrent, "row_load_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("metric_kind", kind.String()),
			zap.String("day", today.String()))
		return TrackedMetric{}, newServiceError(opGetCurrent, "row_load_failed", persistenceFailure(err))
	}
	return row, nil
}

// CurrentDay returns all of today's live records, initializing when needed.
func (s *Service) CurrentDay(ctx context.Context, userID UserID, today Day) ([]TrackedMetric, error) {
	if _, err := s.EnsureDayInitialized(ctx, userID, today); err != nil {
		return nil, err
	}

	var rows []TrackedMetric
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID.String(), today.String()).
		Order("metric_kind ASC").
		Find(&rows).Error
	if err != nil {
		s.logError(opGetCurrent, "day_load_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("day", today.String()))
		return nil, newServiceError(opGetCurrent, "day_load_failed", persistenceFailure(err))
	}
	return rows, nil
}

// ApplyDelta adjusts today's current value by delta, clamped to [0, cap]
// where cap is a generous multiple of the day's target. The updated row is
// persisted immediately and returned. Meal rows change only through
// MarkMealComplete.
func (s *Service) ApplyDelta(ctx context.Context, userID UserID, today Day, kind MetricKind, delta float64) (TrackedMetric, error) {
	if kind == MetricKindMeal {
		return TrackedMetric{}, newServiceError(opApplyDelta, "meal_delta_rejected",
			invariantFailure("meal progress changes only through completion"))
	}
	if _, err := s.EnsureDayInitialized(ctx, userID, today); err != nil {
		return TrackedMetric{}, err
	}

	var updated TrackedMetric
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row TrackedMetric
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND metric_kind = ? AND day = ?", userID.String(), kind.String(), today.String()).
			Take(&row).Error
		if err != nil {
			s.logError(opApplyDelta, "row_load_failed", err,
				zap.String("user_id", userID.String()),
				zap.String("metric_kind", kind.String()))
			return newServiceError(opApplyDelta, "row_load_failed", persistenceFailure(err))
		}

		row.CurrentValue = boundedValue(row.CurrentValue+delta, row.TargetValue, DefaultTarget(kind), s.capMultiplier)
		row.UpdatedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Save(&row).Error; err != nil {
			s.logError(opApplyDelta, "row_save_failed", err,
				zap.String("user_id", userID.String()),
				zap.String("metric_kind", kind.String()))
			return newServiceError(opApplyDelta, "row_save_failed", persistenceFailure(err))
		}
		updated = row
		return nil
	})
	if txErr != nil {
		return TrackedMetric{}, txErr
	}

	s.publishMetric(EventMetricUpdated, updated)
	return updated, nil
}

// SetTarget updates only today's target_value, for mid-day goal edits.
// History keeps the targets that were in force on their own days.
func (s *Service) SetTarget(ctx context.Context, userID UserID, today Day, kind MetricKind, newTarget float64) (TrackedMetric, error) {
	if newTarget <= 0 {
		return TrackedMetric{}, newServiceError(opSetTarget, "non_positive_target",
			invariantFailure(fmt.Sprintf("target must be positive, got %v", newTarget)))
	}
	if _, err := s.EnsureDayInitialized(ctx, userID, today); err != nil {
		return TrackedMetric{}, err
	}

	var updated TrackedMetric
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row TrackedMetric
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND metric_kind = ? AND day = ?", userID.String(), kind.String(), today.String()).
			Take(&row).Error
		if err != nil {
			s.logError(opSetTarget, "row_load_failed", err,
				zap.String("user_id", userID.String()),
				zap.String("metric_kind", kind.String()))
			return newServiceError(opSetTarget, "row_load_failed", persistenceFailure(err))
		}

		row.TargetValue = newTarget
		row.UpdatedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Save(&row).Error; err != nil {
			s.logError(opSetTarget, "row_save_failed", err,
				zap.String("user_id", userID.String()),
				zap.String("metric_kind", kind.String()))
			return newServiceError(opSetTarget, "row_save_failed", persistenceFailure(err))
		}
		updated = row
		return nil
	})
	if txErr != nil {
		return TrackedMetric{}, txErr
	}

	s.publishMetric(EventMetricUpdated, updated)
	return updated, nil
}

// MarkMealComplete transitions one meal slot to completed and stamps its
// completion time. Calling it again for an already-completed slot leaves the
// original stamp untouched.
func (s *Service) MarkMealComplete(ctx context.Context, userID UserID, today Day, slotID string) (TrackedMetric, error) {
	if _, err := s.EnsureDayInitialized(ctx, userID, today); err != nil {
		return TrackedMetric{}, err
	}

	var updated TrackedMetric
	alreadyComplete := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row TrackedMetric
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND metric_kind = ? AND day = ?", userID.String(), MetricKindMeal.String(), today.String()).
			Take(&row).Error
		if err != nil {
			s.logError(opMarkMeal, "row_load_failed", err, zap.String("user_id", userID.String()))
			return newServiceError(opMarkMeal, "row_load_failed", persistenceFailure(err))
		}

		statuses, err := row.MealStatuses()
		if err != nil {
			s.logError(opMarkMeal, "status_decode_failed", err, zap.String("user_id", userID.String()))
			return newServiceError(opMarkMeal, "status_decode_failed", err)
		}

		slotIndex := -1
		for i := range statuses {
			if statuses[i].SlotID == slotID {
				slotIndex = i
				break
			}
		}
		if slotIndex < 0 {
			return newServiceError(opMarkMeal, "unknown_slot",
				invariantFailure(fmt.Sprintf("meal slot %q is not part of today's plan", slotID)))
		}
		if statuses[slotIndex].Completed() {
			alreadyComplete = true
			updated = row
			return nil
		}

		statuses[slotIndex].CompletedAtSeconds = s.clock().UTC().Unix()
		encoded, err := encodeMealStatuses(statuses)
		if err != nil {
			return newServiceError(opMarkMeal, "status_encode_failed", err)
		}

		completed := 0
		for _, status := range statuses {
			if status.Completed() {
				completed++
			}
		}
		row.MealsJSON = encoded
		row.CurrentValue = float64(completed)
		row.UpdatedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Save(&row).Error; err != nil {
			s.logError(opMarkMeal, "row_save_failed", err, zap.String("user_id", userID.String()))
			return newServiceError(opMarkMeal, "row_save_failed", persistenceFailure(err))
		}
		updated = row
		return nil
	})
	if txErr != nil {
		return TrackedMetric{}, txErr
	}

	if !alreadyComplete {
		s.publishMetric(EventMealCompleted, updated)
	}
	return updated, nil
}

// ResetDay is the explicit user-initiated reset: today's final values are
// snapshotted into history first, then the live rows return to zero progress
// with their targets intact.
func (s *Service) ResetDay(ctx context.Context, userID UserID, today Day) error {
	if userID.String() == "" {
		return newServiceError(opResetDay, "unauthenticated", ErrUnauthenticated)
	}

	now := s.clock().UTC()
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []TrackedMetric
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND day = ?", userID.String(), today.String()).
			Find(&rows).Error
		if err != nil {
			s.logError(opResetDay, "day_load_failed", err, zap.String("user_id", userID.String()))
			return newServiceError(opResetDay, "day_load_failed", persistenceFailure(err))
		}
		if len(rows) == 0 {
			return nil
		}

		if err := s.archiveDayTx(tx, userID, today, now); err != nil {
			s.logError(opResetDay, "archive_failed", err, zap.String("user_id", userID.String()))
			return newServiceError(opResetDay, "archive_failed", err)
		}

		for i := range rows {
			rows[i].CurrentValue = 0
			rows[i].UpdatedAtSeconds = now.Unix()
			if rows[i].MetricKind == MetricKindMeal.String() {
				statuses, err := rows[i].MealStatuses()
				if err != nil {
					return newServiceError(opResetDay, "status_decode_failed", err)
				}
				for j := range statuses {
					statuses[j].CompletedAtSeconds = 0
				}
				encoded, err := encodeMealStatuses(statuses)
				if err != nil {
					return newServiceError(opResetDay, "status_encode_failed", err)
				}
				rows[i].MealsJSON = encoded
			}
			if err := tx.Save(&rows[i]).Error; err != nil {
				s.logError(opResetDay, "row_save_failed", err, zap.String("user_id", userID.String()))
				return newServiceError(opResetDay, "row_save_failed", persistenceFailure(err))
			}
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}

	s.publish(Event{
		UserID:    userID.String(),
		EventType: EventDayStarted,
		Day:       today.String(),
		Timestamp: now,
	})
	return nil
}

func (s *Service) resolveTargets(ctx context.Context, userID UserID) (TargetSet, error) {
	if s.targets == nil {
		return TargetSet{}, nil
	}
	return s.targets.DailyTargets(ctx, userID.String())
}

func (s *Service) freshRows(userID UserID, today Day, targets TargetSet, now time.Time) []TrackedMetric {
	rows := make([]TrackedMetric, 0, len(AllMetricKinds()))
	for _, kind := range AllMetricKinds() {
		row := TrackedMetric{
			UserID:           userID.String(),
			MetricKind:       kind.String(),
			Day:              today.String(),
			CurrentValue:     0,
			TargetValue:      targets.valueFor(kind),
			CreatedAtSeconds: now.Unix(),
			UpdatedAtSeconds: now.Unix(),
		}
		if kind == MetricKindMeal {
			statuses := make([]MealStatus, 0, len(targets.slots()))
			for _, slot := range targets.slots() {
				statuses = append(statuses, MealStatus{SlotID: slot})
			}
			encoded, err := encodeMealStatuses(statuses)
			if err == nil {
				row.MealsJSON = encoded
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func (s *Service) publish(event Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(event)
}

func (s *Service) publishMetric(eventType string, row TrackedMetric) {
	s.publish(Event{
		UserID:     row.UserID,
		EventType:  eventType,
		MetricKind: row.MetricKind,
		Day:        row.Day,
		Value:      row.CurrentValue,
		Target:     row.TargetValue,
		Timestamp:  s.clock().UTC(),
	})
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("tracking service error", attrs...)
}
