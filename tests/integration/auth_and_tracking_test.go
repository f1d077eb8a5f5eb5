package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/VitaTrackLab/vitatrack/backend/internal/auth"
	"github.com/VitaTrackLab/vitatrack/backend/internal/profile"
	"github.com/VitaTrackLab/vitatrack/backend/internal/server"
	"github.com/VitaTrackLab/vitatrack/backend/internal/tracking"
)

const (
	assertionSigningSecret = "integration-assertion-secret"
	assertionIssuer        = "vitatrack-identity"
	backendSigningSecret   = "integration-backend-secret"
	integrationUserID      = "user-abc"
	firstDay               = "2026-03-14"
	secondDay              = "2026-03-15"
	jsonContentType        = "application/json"
)

func TestAuthAndTrackingFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:integration?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&tracking.TrackedMetric{}, &tracking.HistorySnapshot{}, &profile.Profile{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	profileService, err := profile.NewService(profile.ServiceConfig{Database: db, Logger: zap.NewNop()})
	if err != nil {
		testContext.Fatalf("failed to build profile service: %v", err)
	}

	dispatcher := tracking.NewDispatcher()
	trackingService, err := tracking.NewService(tracking.ServiceConfig{
		Database:   db,
		Targets:    profileService,
		Events:     dispatcher,
		IDProvider: tracking.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build tracking service: %v", err)
	}

	verifier, err := auth.NewAssertionVerifier(auth.AssertionVerifierConfig{
		SigningSecret: []byte(assertionSigningSecret),
		Issuer:        assertionIssuer,
	})
	if err != nil {
		testContext.Fatalf("failed to construct assertion verifier: %v", err)
	}
	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(backendSigningSecret),
		Issuer:        "vitatrack-auth",
		Audience:      "vitatrack-api",
		TokenTTL:      30 * time.Minute,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		AssertionVerifier: verifier,
		TokenManager:      issuer,
		TrackingService:   trackingService,
		ProfileService:    profileService,
		Dispatcher:        dispatcher,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	// Exchange an identity-provider assertion for a backend bearer token.
	assertionToken := mustMintAssertion(testContext, assertionSigningSecret, integrationUserID, time.Now())
	sessionBody, _ := json.Marshal(map[string]any{"assertion": assertionToken})
	sessionResp, err := http.Post(testServer.URL+"/auth/session", jsonContentType, bytes.NewReader(sessionBody))
	if err != nil {
		testContext.Fatalf("session request failed: %v", err)
	}
	defer sessionResp.Body.Close()
	if sessionResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected session status: %d", sessionResp.StatusCode)
	}
	var sessionPayload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(sessionResp.Body).Decode(&sessionPayload); err != nil {
		testContext.Fatalf("failed to decode session response: %v", err)
	}
	if sessionPayload.AccessToken == "" || sessionPayload.TokenType != "Bearer" {
		testContext.Fatalf("unexpected session payload: %+v", sessionPayload)
	}
	bearer := "Bearer " + sessionPayload.AccessToken

	do := func(method, path string, body any) *http.Response {
		var reader *bytes.Reader
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				testContext.Fatalf("failed to encode body: %v", err)
			}
			reader = bytes.NewReader(encoded)
		} else {
			reader = bytes.NewReader(nil)
		}
		request, err := http.NewRequest(method, testServer.URL+path, reader)
		if err != nil {
			testContext.Fatalf("failed to build request: %v", err)
		}
		request.Header.Set("Authorization", bearer)
		request.Header.Set("Content-Type", jsonContentType)
		response, err := http.DefaultClient.Do(request)
		if err != nil {
			testContext.Fatalf("%s %s failed: %v", method, path, err)
		}
		return response
	}

	// First load of the day materialises the four metric rows.
	todayResp := do(http.MethodGet, "/metrics/today?day="+firstDay, nil)
	defer todayResp.Body.Close()
	if todayResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected today status: %d", todayResp.StatusCode)
	}
	var todayPayload struct {
		Day      string `json:"day"`
		WasReset bool   `json:"was_reset"`
		Metrics  []struct {
			MetricKind string  `json:"metric_kind"`
			Value      float64 `json:"value"`
			Target     float64 `json:"target"`
		} `json:"metrics"`
	}
	if err := json.NewDecoder(todayResp.Body).Decode(&todayPayload); err != nil {
		testContext.Fatalf("failed to decode today response: %v", err)
	}
	if !todayPayload.WasReset || len(todayPayload.Metrics) != 4 {
		testContext.Fatalf("expected fresh day with four metrics, got %+v", todayPayload)
	}

	// Log some water and complete a meal.
	deltaResp := do(http.MethodPost, "/metrics/water/delta", map[string]any{"day": firstDay, "delta": 600.0})
	defer deltaResp.Body.Close()
	if deltaResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected delta status: %d", deltaResp.StatusCode)
	}
	var deltaPayload struct {
		Value float64 `json:"value"`
	}
	if err := json.NewDecoder(deltaResp.Body).Decode(&deltaPayload); err != nil {
		testContext.Fatalf("failed to decode delta response: %v", err)
	}
	if deltaPayload.Value != 600 {
		testContext.Fatalf("expected water value 600, got %v", deltaPayload.Value)
	}

	mealResp := do(http.MethodPost, "/meals/complete", map[string]any{"day": firstDay, "slot_id": "breakfast"})
	defer mealResp.Body.Close()
	if mealResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected meal status: %d", mealResp.StatusCode)
	}

	// A profile edit changes targets for future day initialisations only.
	profileResp := do(http.MethodPut, "/profile", map[string]any{
		"weight_kg":       70.0,
		"height_cm":       175.0,
		"age_years":       30,
		"sex":             "male",
		"activity_level":  "moderate",
		"water_target_ml": 2500.0,
	})
	defer profileResp.Body.Close()
	if profileResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected profile status: %d", profileResp.StatusCode)
	}

	// Crossing the day boundary archives the old day and applies new targets.
	nextResp := do(http.MethodGet, "/metrics/today?day="+secondDay, nil)
	defer nextResp.Body.Close()
	if nextResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected next-day status: %d", nextResp.StatusCode)
	}
	var nextPayload struct {
		WasReset bool `json:"was_reset"`
		Metrics  []struct {
			MetricKind string  `json:"metric_kind"`
			Value      float64 `json:"value"`
			Target     float64 `json:"target"`
		} `json:"metrics"`
	}
	if err := json.NewDecoder(nextResp.Body).Decode(&nextPayload); err != nil {
		testContext.Fatalf("failed to decode next-day response: %v", err)
	}
	if !nextPayload.WasReset {
		testContext.Fatalf("expected day rollover to reset")
	}
	for _, metric := range nextPayload.Metrics {
		if metric.Value != 0 {
			testContext.Fatalf("expected zeroed metric after rollover, got %+v", metric)
		}
		if metric.MetricKind == "water" && metric.Target != 2500 {
			testContext.Fatalf("expected water target 2500 after profile edit, got %v", metric.Target)
		}
	}

	// The archived day is visible through the reporting window.
	seriesResp := do(http.MethodGet, "/reports/series?kind=water&day="+secondDay+"&window=2", nil)
	defer seriesResp.Body.Close()
	if seriesResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected series status: %d", seriesResp.StatusCode)
	}
	var seriesPayload struct {
		Points []struct {
			Day   string  `json:"day"`
			Value float64 `json:"value"`
		} `json:"points"`
	}
	if err := json.NewDecoder(seriesResp.Body).Decode(&seriesPayload); err != nil {
		testContext.Fatalf("failed to decode series response: %v", err)
	}
	if len(seriesPayload.Points) != 2 {
		testContext.Fatalf("expected two points, got %#v", seriesPayload.Points)
	}
	if seriesPayload.Points[0].Day != firstDay || seriesPayload.Points[0].Value != 600 {
		testContext.Fatalf("expected archived water value 600 for %s, got %#v", firstDay, seriesPayload.Points[0])
	}

	rateResp := do(http.MethodGet, "/reports/success-rate?kind=meal&day="+secondDay+"&window=2", nil)
	defer rateResp.Body.Close()
	if rateResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected success-rate status: %d", rateResp.StatusCode)
	}
	var ratePayload struct {
		Rate float64 `json:"rate"`
	}
	if err := json.NewDecoder(rateResp.Body).Decode(&ratePayload); err != nil {
		testContext.Fatalf("failed to decode success-rate response: %v", err)
	}
	if ratePayload.Rate < 0 || ratePayload.Rate > 1 {
		testContext.Fatalf("expected rate within [0,1], got %v", ratePayload.Rate)
	}
}

func mustMintAssertion(testContext *testing.T, signingSecret, userID string, now time.Time) string {
	testContext.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":               userID,
		"iss":               assertionIssuer,
		"user_email":        "abc@example.com",
		"user_display_name": "Integration User",
		"iat":               now.Add(-time.Minute).Unix(),
		"exp":               now.Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(signingSecret))
	if err != nil {
		testContext.Fatalf("failed to sign assertion: %v", err)
	}
	return signed
}
