package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/VitaTrackLab/vitatrack/backend/internal/auth"
	"github.com/VitaTrackLab/vitatrack/backend/internal/config"
	"github.com/VitaTrackLab/vitatrack/backend/internal/database"
	"github.com/VitaTrackLab/vitatrack/backend/internal/logging"
	"github.com/VitaTrackLab/vitatrack/backend/internal/profile"
	"github.com/VitaTrackLab/vitatrack/backend/internal/server"
	"github.com/VitaTrackLab/vitatrack/backend/internal/tracking"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vitatrack-api",
		Short: "VitaTrack daily tracking backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("assertion-secret", "", "Identity assertion secret (overrides env)")
	cmd.PersistentFlags().String("assertion-issuer", defaults.GetString("identity.issuer"), "Expected identity assertion issuer")
	cmd.PersistentFlags().Float64("success-threshold", defaults.GetFloat64("tracking.success_threshold"), "Share of a day's target that counts as success")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "identity.assertion_secret", "assertion-secret")
	bindFlag(cmd, "identity.issuer", "assertion-issuer")
	bindFlag(cmd, "tracking.success_threshold", "success-threshold")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "vitatrack-auth",
		Audience:      "vitatrack-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	assertionVerifier, err := auth.NewAssertionVerifier(auth.AssertionVerifierConfig{
		SigningSecret: []byte(appConfig.AssertionSecret),
		Issuer:        appConfig.AssertionIssuer,
	})
	if err != nil {
		return err
	}

	profileService, err := profile.NewService(profile.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	dispatcher := tracking.NewDispatcher()
	trackingService, err := tracking.NewService(tracking.ServiceConfig{
		Database:         db,
		Clock:            time.Now,
		Targets:          profileService,
		Events:           dispatcher,
		IDProvider:       tracking.NewUUIDProvider(),
		Logger:           logger,
		CapMultiplier:    appConfig.MetricCapMultiple,
		SuccessThreshold: appConfig.SuccessThreshold,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		AssertionVerifier: assertionVerifier,
		TokenManager:      tokenManager,
		TrackingService:   trackingService,
		ProfileService:    profileService,
		Dispatcher:        dispatcher,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
