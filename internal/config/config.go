// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Port     string `validate:"required,numeric"`
	Env      string `validate:"oneof=development production test"`
	LogLevel string `validate:"oneof=debug info warn error"`
	LogFile  string

	MTABusAPIKey string
	HTTPTimeout  time.Duration `validate:"gt=0"`
	FetchTimeout time.Duration `validate:"gt=0"`
	StaleTTL     time.Duration `validate:"gt=0"`
	MaxFailures  int           `validate:"gte=1"`

	StopsFile   string
	DatabaseURL string `validate:"omitempty,url"`

	NATSURL           string `validate:"omitempty,url"`
	NATSSubjectPrefix string `validate:"required"`

	WalkSpeed      float64       `validate:"gt=0"`
	PositionMaxAge time.Duration `validate:"gt=0"`
	MetricsEnabled bool
	// MetricsAddr serves /metrics on a separate listener when set
	MetricsAddr string `validate:"omitempty,hostname_port"`
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "3000"),
		Env:               getEnv("ENV", "development"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFile:           getEnv("LOG_FILE", ""),
		MTABusAPIKey:      getEnv("MTA_BUS_API_KEY", ""),
		StopsFile:         getEnv("STOPS_FILE", "data/stops.yaml"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		NATSURL:           getEnv("NATS_URL", ""),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "timeright.decisions"),
		MetricsAddr:       getEnv("METRICS_ADDR", ""),
	}

	var err error
	if cfg.HTTPTimeout, err = getDurationEnv("HTTP_TIMEOUT_SECONDS", 10); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = getDurationEnv("FETCH_TIMEOUT_SECONDS", 3); err != nil {
		return nil, err
	}
	if cfg.StaleTTL, err = getDurationEnv("STALE_TTL_SECONDS", 120); err != nil {
		return nil, err
	}
	if cfg.PositionMaxAge, err = getDurationEnv("POSITION_MAX_AGE_SECONDS", 30); err != nil {
		return nil, err
	}
	if cfg.MaxFailures, err = getIntEnv("CACHE_MAX_FAILURES", 3); err != nil {
		return nil, err
	}
	if cfg.WalkSpeed, err = getFloatEnv("WALK_SPEED_MPS", 1.2); err != nil {
		return nil, err
	}
	if cfg.MetricsEnabled, err = getBoolEnv("METRICS_ENABLED", true); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Validate checks the configuration against its field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultSeconds int) (time.Duration, error) {
	seconds, err := getIntEnv(key, defaultSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds) * time.Second, nil
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, value)
	}
	return n, nil
}

func getFloatEnv(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, value)
	}
	return f, nil
}

func getBoolEnv(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s: %q", key, value)
}
