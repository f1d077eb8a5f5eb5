package tracking

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DayPoint is one day's value within a reporting window.
type DayPoint struct {
	Day    Day
	Value  float64
	Target float64
}

// DailySeries returns one point for every day in the trailing window ending
// at today, oldest first. Days without history are filled with a zero value
// and the kind's default target so charts render a continuous series. Today
// reads from the live row when one exists.
func (s *Service) DailySeries(ctx context.Context, userID UserID, kind MetricKind, today Day, windowDays int) ([]DayPoint, error) {
	if userID.String() == "" {
		return nil, newServiceError(opDailySeries, "unauthenticated", ErrUnauthenticated)
	}
	if windowDays < 1 {
		return nil, newServiceError(opDailySeries, "invalid_window",
			invariantFailure("window must cover at least one day"))
	}

	start := today.AddDays(-(windowDays - 1))

	var snapshots []HistorySnapshot
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND metric_kind = ? AND day >= ? AND day <= ?",
			userID.String(), kind.String(), start.String(), today.String()).
		Order("day ASC").
		Find(&snapshots).Error
	if err != nil {
		s.logError(opDailySeries, "history_query_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("metric_kind", kind.String()))
		return nil, newServiceError(opDailySeries, "history_query_failed", persistenceFailure(err))
	}

	points := make(map[string]DayPoint, len(snapshots)+1)
	for _, snapshot := range snapshots {
		points[snapshot.Day] = DayPoint{
			Day:    Day(snapshot.Day),
			Value:  snapshot.Value,
			Target: snapshot.Target,
		}
	}

	var live TrackedMetric
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND metric_kind = ? AND day = ?", userID.String(), kind.String(), today.String()).
		Take(&live).Error
	if err == nil {
		points[live.Day] = DayPoint{
			Day:    Day(live.Day),
			Value:  live.CurrentValue,
			Target: live.TargetValue,
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opDailySeries, "live_row_query_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("metric_kind", kind.String()))
		return nil, newServiceError(opDailySeries, "live_row_query_failed", persistenceFailure(err))
	}

	series := make([]DayPoint, 0, windowDays)
	for day := start; !today.Before(day); day = day.AddDays(1) {
		point, ok := points[day.String()]
		if !ok {
			point = DayPoint{Day: day, Value: 0, Target: DefaultTarget(kind)}
		}
		series = append(series, point)
	}
	return series, nil
}

// SuccessRate returns the fraction of days in the trailing window whose value
// reached the configured share of that day's target. Days without history
// count as misses; an empty window of history yields 0, never an error.
func (s *Service) SuccessRate(ctx context.Context, userID UserID, kind MetricKind, today Day, windowDays int) (float64, error) {
	series, err := s.DailySeries(ctx, userID, kind, today, windowDays)
	if err != nil {
		var serviceErr *ServiceError
		if errors.As(err, &serviceErr) {
			return 0, newServiceError(opSuccessRate, "series_failed", serviceErr.Unwrap())
		}
		return 0, newServiceError(opSuccessRate, "series_failed", err)
	}
	if len(series) == 0 {
		return 0, nil
	}

	met := 0
	for _, point := range series {
		if point.Target <= 0 {
			continue
		}
		if point.Value >= point.Target*s.successThreshold {
			met++
		}
	}
	return float64(met) / float64(len(series)), nil
}
