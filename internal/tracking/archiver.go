package tracking

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ArchiveDay copies every live row for the given day into history. Snapshots
// are inserted once per (user, kind, day); re-archiving an already-archived
// day leaves the existing snapshots untouched, so the call is idempotent.
func (s *Service) ArchiveDay(ctx context.Context, userID UserID, day Day) error {
	if userID.String() == "" {
		return newServiceError(opArchiveDay, "unauthenticated", ErrUnauthenticated)
	}

	now := s.clock().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.archiveDayTx(tx, userID, day, now); err != nil {
			s.logError(opArchiveDay, "archive_failed", err,
				zap.String("user_id", userID.String()),
				zap.String("day", day.String()))
			return newServiceError(opArchiveDay, "archive_failed", err)
		}
		return nil
	})
}

func (s *Service) archiveDayTx(tx *gorm.DB, userID UserID, day Day, archivedAt time.Time) error {
	var rows []TrackedMetric
	err := tx.
		Where("user_id = ? AND day = ?", userID.String(), day.String()).
		Find(&rows).Error
	if err != nil {
		return persistenceFailure(err)
	}
	if len(rows) == 0 {
		return nil
	}

	snapshots := make([]HistorySnapshot, 0, len(rows))
	for _, row := range rows {
		snapshotID, err := s.idProvider.NewID()
		if err != nil {
			return err
		}
		snapshots = append(snapshots, HistorySnapshot{
			UserID:            row.UserID,
			MetricKind:        row.MetricKind,
			Day:               row.Day,
			SnapshotID:        snapshotID,
			Value:             row.CurrentValue,
			Target:            row.TargetValue,
			MealsJSON:         row.MealsJSON,
			ArchivedAtSeconds: archivedAt.Unix(),
		})
	}

	// Snapshots are write-once: a conflict on the natural key means the day
	// was already archived and the original record wins.
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "metric_kind"}, {Name: "day"}},
		DoNothing: true,
	}).Create(&snapshots).Error
	if err != nil {
		return persistenceFailure(err)
	}
	return nil
}
