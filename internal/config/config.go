package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "VITATRACK"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "vitatrack.db"
	defaultLogLevel          = "info"
	defaultTokenTTLMinutes   = 30
	defaultAssertionIssuer   = "vitatrack-identity"
	defaultSuccessThreshold  = 0.8
	defaultMetricCapMultiple = 3.0
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	SigningSecret     string
	AssertionSecret   string
	AssertionIssuer   string
	DatabasePath      string
	LogLevel          string
	TokenTTL          time.Duration
	SuccessThreshold  float64
	MetricCapMultiple float64
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("identity.issuer", defaultAssertionIssuer)
	configViper.SetDefault("tracking.success_threshold", defaultSuccessThreshold)
	configViper.SetDefault("tracking.cap_multiple", defaultMetricCapMultiple)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		AssertionSecret:   configViper.GetString("identity.assertion_secret"),
		AssertionIssuer:   configViper.GetString("identity.issuer"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		TokenTTL:          time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		SuccessThreshold:  configViper.GetFloat64("tracking.success_threshold"),
		MetricCapMultiple: configViper.GetFloat64("tracking.cap_multiple"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.AssertionSecret) == "" {
		return fmt.Errorf("identity.assertion_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.SuccessThreshold <= 0 || c.SuccessThreshold > 1 {
		return fmt.Errorf("tracking.success_threshold must be in (0, 1]")
	}
	if c.MetricCapMultiple < 1 {
		return fmt.Errorf("tracking.cap_multiple must be at least 1")
	}
	return nil
}
