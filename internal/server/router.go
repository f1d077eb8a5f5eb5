package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/VitaTrackLab/vitatrack/backend/internal/auth"
	"github.com/VitaTrackLab/vitatrack/backend/internal/profile"
	"github.com/VitaTrackLab/vitatrack/backend/internal/tracking"
)

const userIDContextKey = "vitatrack_user_id"

const defaultReportWindowDays = 7

var (
	errMissingAssertionVerifier = errors.New("assertion verifier dependency required")
	errMissingTokenManager      = errors.New("token manager dependency required")
	errMissingTrackingService   = errors.New("tracking service dependency required")
	errMissingProfileService    = errors.New("profile service dependency required")
	errInvalidAuthorization     = errors.New("authorization header missing or invalid")
)

// AssertionVerifier validates identity-provider assertions during login.
type AssertionVerifier interface {
	Verify(token string) (auth.IdentityAssertion, error)
}

// BackendTokenManager issues and validates backend bearer tokens.
type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, assertion auth.IdentityAssertion) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer to its collaborators.
type Dependencies struct {
	AssertionVerifier AssertionVerifier
	TokenManager      BackendTokenManager
	TrackingService   *tracking.Service
	ProfileService    *profile.Service
	Dispatcher        *tracking.Dispatcher
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin router for the tracking API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.AssertionVerifier == nil {
		return nil, errMissingAssertionVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.TrackingService == nil {
		return nil, errMissingTrackingService
	}
	if deps.ProfileService == nil {
		return nil, errMissingProfileService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:   deps.AssertionVerifier,
		tokens:     deps.TokenManager,
		trackers:   deps.TrackingService,
		profiles:   deps.ProfileService,
		dispatcher: deps.Dispatcher,
		logger:     logger,
	}

	router.POST("/auth/session", handler.handleSessionExchange)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/metrics/today", handler.handleMetricsToday)
	protected.POST("/metrics/:kind/delta", handler.handleMetricDelta)
	protected.PUT("/metrics/:kind/target", handler.handleMetricTarget)
	protected.POST("/meals/complete", handler.handleMealComplete)
	protected.POST("/metrics/reset", handler.handleDayReset)
	protected.GET("/reports/series", handler.handleDailySeries)
	protected.GET("/reports/success-rate", handler.handleSuccessRate)
	protected.GET("/profile", handler.handleProfileGet)
	protected.PUT("/profile", handler.handleProfilePut)
	protected.GET("/events/stream", handler.handleEventStream)

	return router, nil
}

type httpHandler struct {
	verifier   AssertionVerifier
	tokens     BackendTokenManager
	trackers   *tracking.Service
	profiles   *profile.Service
	dispatcher *tracking.Dispatcher
	logger     *zap.Logger
}

type sessionRequestPayload struct {
	Assertion string `json:"assertion"`
}

type sessionResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleSessionExchange(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Assertion) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	assertion, err := h.verifier.Verify(request.Assertion)
	if err != nil {
		h.logger.Warn("identity assertion verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), assertion)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type metricPayload struct {
	MetricKind string        `json:"metric_kind"`
	Day        string        `json:"day"`
	Value      float64       `json:"value"`
	Target     float64       `json:"target"`
	Meals      []mealPayload `json:"meals,omitempty"`
	UpdatedAtS int64         `json:"updated_at_s"`
}

type mealPayload struct {
	SlotID       string `json:"slot_id"`
	CompletedAtS int64  `json:"completed_at_s,omitempty"`
}

func metricToPayload(row tracking.TrackedMetric) metricPayload {
	payload := metricPayload{
		MetricKind: row.MetricKind,
		Day:        row.Day,
		Value:      row.CurrentValue,
		Target:     row.TargetValue,
		UpdatedAtS: row.UpdatedAtSeconds,
	}
	if statuses, err := row.MealStatuses(); err == nil {
		for _, status := range statuses {
			payload.Meals = append(payload.Meals, mealPayload{
				SlotID:       status.SlotID,
				CompletedAtS: status.CompletedAtSeconds,
			})
		}
	}
	return payload
}

type todayResponsePayload struct {
	Day      string          `json:"day"`
	WasReset bool            `json:"was_reset"`
	Metrics  []metricPayload `json:"metrics"`
}

func (h *httpHandler) handleMetricsToday(c *gin.Context) {
	userID, today, ok := h.requireUserAndDay(c, c.Query("day"))
	if !ok {
		return
	}

	result, err := h.trackers.EnsureDayInitialized(c.Request.Context(), userID, today)
	if err != nil {
		h.writeTrackingError(c, "day initialization failed", err)
		return
	}
	rows, err := h.trackers.CurrentDay(c.Request.Context(), userID, today)
	if err != nil {
		h.writeTrackingError(c, "today load failed", err)
		return
	}

	response := todayResponsePayload{Day: today.String(), WasReset: result.WasReset}
	for _, row := range rows {
		response.Metrics = append(response.Metrics, metricToPayload(row))
	}
	c.JSON(http.StatusOK, response)
}

type deltaRequestPayload struct {
	Day   string  `json:"day"`
	Delta float64 `json:"delta"`
}

func (h *httpHandler) handleMetricDelta(c *gin.Context) {
	kind, ok := h.requireKind(c)
	if !ok {
		return
	}
	var request deltaRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID, day, ok := h.requireUserAndDay(c, request.Day)
	if !ok {
		return
	}

	updated, err := h.trackers.ApplyDelta(c.Request.Context(), userID, day, kind, request.Delta)
	if err != nil {
		h.writeTrackingError(c, "delta failed", err)
		return
	}
	c.JSON(http.StatusOK, metricToPayload(updated))
}

type targetRequestPayload struct {
	Day    string  `json:"day"`
	Target float64 `json:"target"`
}

func (h *httpHandler) handleMetricTarget(c *gin.Context) {
	kind, ok := h.requireKind(c)
	if !ok {
		return
	}
	var request targetRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID, day, ok := h.requireUserAndDay(c, request.Day)
	if !ok {
		return
	}

	updated, err := h.trackers.SetTarget(c.Request.Context(), userID, day, kind, request.Target)
	if err != nil {
		h.writeTrackingError(c, "target update failed", err)
		return
	}
	c.JSON(http.StatusOK, metricToPayload(updated))
}

type mealCompleteRequestPayload struct {
	Day    string `json:"day"`
	SlotID string `json:"slot_id"`
}

func (h *httpHandler) handleMealComplete(c *gin.Context) {
	var request mealCompleteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.SlotID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID, day, ok := h.requireUserAndDay(c, request.Day)
	if !ok {
		return
	}

	updated, err := h.trackers.MarkMealComplete(c.Request.Context(), userID, day, request.SlotID)
	if err != nil {
		h.writeTrackingError(c, "meal completion failed", err)
		return
	}
	c.JSON(http.StatusOK, metricToPayload(updated))
}

type resetRequestPayload struct {
	Day string `json:"day"`
}

func (h *httpHandler) handleDayReset(c *gin.Context) {
	var request resetRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID, day, ok := h.requireUserAndDay(c, request.Day)
	if !ok {
		return
	}

	if err := h.trackers.ResetDay(c.Request.Context(), userID, day); err != nil {
		h.writeTrackingError(c, "reset failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

type seriesResponsePayload struct {
	MetricKind string               `json:"metric_kind"`
	Points     []seriesPointPayload `json:"points"`
}

type seriesPointPayload struct {
	Day    string  `json:"day"`
	Value  float64 `json:"value"`
	Target float64 `json:"target"`
}

func (h *httpHandler) handleDailySeries(c *gin.Context) {
	kind, userID, day, window, ok := h.requireReportParams(c)
	if !ok {
		return
	}

	series, err := h.trackers.DailySeries(c.Request.Context(), userID, kind, day, window)
	if err != nil {
		h.writeTrackingError(c, "series failed", err)
		return
	}

	response := seriesResponsePayload{MetricKind: kind.String()}
	for _, point := range series {
		response.Points = append(response.Points, seriesPointPayload{
			Day:    point.Day.String(),
			Value:  point.Value,
			Target: point.Target,
		})
	}
	c.JSON(http.StatusOK, response)
}

type successRateResponsePayload struct {
	MetricKind string  `json:"metric_kind"`
	WindowDays int     `json:"window_days"`
	Rate       float64 `json:"rate"`
}

func (h *httpHandler) handleSuccessRate(c *gin.Context) {
	kind, userID, day, window, ok := h.requireReportParams(c)
	if !ok {
		return
	}

	rate, err := h.trackers.SuccessRate(c.Request.Context(), userID, kind, day, window)
	if err != nil {
		h.writeTrackingError(c, "success rate failed", err)
		return
	}
	c.JSON(http.StatusOK, successRateResponsePayload{
		MetricKind: kind.String(),
		WindowDays: window,
		Rate:       rate,
	})
}

type profilePayload struct {
	WeightKG         float64  `json:"weight_kg"`
	HeightCM         float64  `json:"height_cm"`
	AgeYears         int      `json:"age_years"`
	Sex              string   `json:"sex"`
	ActivityLevel    string   `json:"activity_level"`
	WaterTargetML    float64  `json:"water_target_ml"`
	WeeklyExerciseMM float64  `json:"weekly_exercise_minutes"`
	CalorieTarget    float64  `json:"calorie_target"`
	MealSlots        []string `json:"meal_slots"`
}

func (h *httpHandler) handleProfileGet(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	stored, err := h.profiles.Get(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("profile load failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_load_failed"})
		return
	}
	c.JSON(http.StatusOK, profileToPayload(stored))
}

func (h *httpHandler) handleProfilePut(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var request profilePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	stored, err := h.profiles.Upsert(c.Request.Context(), userID, profile.UpdateRequest{
		WeightKG:         request.WeightKG,
		HeightCM:         request.HeightCM,
		AgeYears:         request.AgeYears,
		Sex:              request.Sex,
		ActivityLevel:    request.ActivityLevel,
		WaterTargetML:    request.WaterTargetML,
		WeeklyExerciseMM: request.WeeklyExerciseMM,
		CalorieTarget:    request.CalorieTarget,
		MealSlots:        request.MealSlots,
	})
	if err != nil {
		h.logger.Warn("profile update rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_profile"})
		return
	}
	c.JSON(http.StatusOK, profileToPayload(stored))
}

func profileToPayload(stored profile.Profile) profilePayload {
	return profilePayload{
		WeightKG:         stored.WeightKG,
		HeightCM:         stored.HeightCM,
		AgeYears:         stored.AgeYears,
		Sex:              stored.Sex,
		ActivityLevel:    stored.ActivityLevel,
		WaterTargetML:    stored.WaterTargetML,
		WeeklyExerciseMM: stored.WeeklyExerciseMM,
		CalorieTarget:    stored.CalorieTarget,
		MealSlots:        stored.MealSlots(),
	}
}

type streamEventPayload struct {
	EventType  string  `json:"event_type"`
	MetricKind string  `json:"metric_kind,omitempty"`
	Day        string  `json:"day,omitempty"`
	Value      float64 `json:"value"`
	Target     float64 `json:"target"`
	TimestampS int64   `json:"timestamp_s"`
}

func (h *httpHandler) handleEventStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if h.dispatcher == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "events_disabled"})
		return
	}

	stream, cleanup := h.dispatcher.Subscribe(c.Request.Context(), userID)
	defer cleanup()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case event, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(event.EventType, streamEventPayload{
				EventType:  event.EventType,
				MetricKind: event.MetricKind,
				Day:        event.Day,
				Value:      event.Value,
				Target:     event.Target,
				TimestampS: event.Timestamp.Unix(),
			})
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"timestamp_s": time.Now().Unix()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) requireUserAndDay(c *gin.Context, rawDay string) (tracking.UserID, tracking.Day, bool) {
	subject := c.GetString(userIDContextKey)
	userID, err := tracking.NewUserID(subject)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", "", false
	}
	day, err := tracking.NewDay(rawDay)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_day"})
		return "", "", false
	}
	return userID, day, true
}

func (h *httpHandler) requireKind(c *gin.Context) (tracking.MetricKind, bool) {
	kind, err := tracking.ParseMetricKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_metric_kind"})
		return "", false
	}
	return kind, true
}

func (h *httpHandler) requireReportParams(c *gin.Context) (tracking.MetricKind, tracking.UserID, tracking.Day, int, bool) {
	kind, err := tracking.ParseMetricKind(c.Query("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_metric_kind"})
		return "", "", "", 0, false
	}
	userID, day, ok := h.requireUserAndDay(c, c.Query("day"))
	if !ok {
		return "", "", "", 0, false
	}
	window := defaultReportWindowDays
	if raw := strings.TrimSpace(c.Query("window")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_window"})
			return "", "", "", 0, false
		}
		window = parsed
	}
	return kind, userID, day, window, true
}

func (h *httpHandler) writeTrackingError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, tracking.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, tracking.ErrInvariantViolation):
		h.logger.Warn(message, zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invariant_violation"})
	case errors.Is(err, tracking.ErrPersistenceUnavailable):
		h.logger.Error(message, zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable", "retriable": true})
	default:
		h.logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
