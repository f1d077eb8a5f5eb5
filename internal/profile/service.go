package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/VitaTrackLab/vitatrack/backend/internal/tracking"
)

var (
	errMissingDatabase = errors.New("profile: database connection required")
	errMissingUserID   = errors.New("profile: user identifier required")

	validate = validator.New()
)

// UpdateRequest carries a profile edit. Override fields are optional; zero
// means "clear the override and fall back to derived or default targets".
type UpdateRequest struct {
	WeightKG         float64  `validate:"gte=0,lte=500"`
	HeightCM         float64  `validate:"gte=0,lte=300"`
	AgeYears         int      `validate:"gte=0,lte=150"`
	Sex              string   `validate:"omitempty,oneof=female male"`
	ActivityLevel    string   `validate:"omitempty,oneof=sedentary light moderate active very_active"`
	WaterTargetML    float64  `validate:"gte=0,lte=10000"`
	WeeklyExerciseMM float64  `validate:"gte=0,lte=5000"`
	CalorieTarget    float64  `validate:"gte=0,lte=10000"`
	MealSlots        []string `validate:"omitempty,max=8,dive,required"`
}

// ServiceConfig describes the dependencies of the profile service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns user profiles and resolves the daily goal set consumed by the
// tracking layer at day initialization.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Get returns the stored profile, or a zero profile when none exists yet.
func (s *Service) Get(ctx context.Context, userID string) (Profile, error) {
	if userID == "" {
		return Profile{}, errMissingUserID
	}
	var stored Profile
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{UserID: userID}, nil
	}
	if err != nil {
		s.logger.Error("profile load failed", zap.String("user_id", userID), zap.Error(err))
		return Profile{}, fmt.Errorf("profile: load: %w", err)
	}
	return stored, nil
}

// Upsert validates and stores a profile edit. Edits affect targets from the
// next day initialization onward; already-frozen history is never rewritten.
func (s *Service) Upsert(ctx context.Context, userID string, request UpdateRequest) (Profile, error) {
	if userID == "" {
		return Profile{}, errMissingUserID
	}
	if err := validate.Struct(request); err != nil {
		return Profile{}, fmt.Errorf("profile: invalid update: %w", err)
	}

	slotsJSON := ""
	if len(request.MealSlots) > 0 {
		encoded, err := json.Marshal(request.MealSlots)
		if err != nil {
			return Profile{}, fmt.Errorf("profile: encode meal slots: %w", err)
		}
		slotsJSON = string(encoded)
	}

	now := s.clock().UTC().Unix()
	stored := Profile{
		UserID:           userID,
		WeightKG:         request.WeightKG,
		HeightCM:         request.HeightCM,
		AgeYears:         request.AgeYears,
		Sex:              request.Sex,
		ActivityLevel:    request.ActivityLevel,
		WaterTargetML:    request.WaterTargetML,
		WeeklyExerciseMM: request.WeeklyExerciseMM,
		CalorieTarget:    request.CalorieTarget,
		MealSlotsJSON:    slotsJSON,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Save(&stored).Error; err != nil {
		s.logger.Error("profile save failed", zap.String("user_id", userID), zap.Error(err))
		return Profile{}, fmt.Errorf("profile: save: %w", err)
	}
	return stored, nil
}

// DailyTargets resolves the goals the tracking layer freezes into a new day.
// A missing profile is not an error: unset fields stay zero and the tracking
// defaults apply downstream.
func (s *Service) DailyTargets(ctx context.Context, userID string) (tracking.TargetSet, error) {
	stored, err := s.Get(ctx, userID)
	if err != nil {
		return tracking.TargetSet{}, err
	}

	targets := tracking.TargetSet{
		WaterML:   stored.WaterTargetML,
		MealSlots: stored.MealSlots(),
	}
	if stored.WeeklyExerciseMM > 0 {
		targets.ExerciseMinutes = math.Ceil(stored.WeeklyExerciseMM / 7)
	}
	targets.Calories = stored.CalorieTarget
	if targets.Calories <= 0 {
		targets.Calories = math.Round(stored.MaintenanceCalories())
	}
	return targets, nil
}
