package config

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "LOG_FILE", "MTA_BUS_API_KEY", "HTTP_TIMEOUT_SECONDS",
	"FETCH_TIMEOUT_SECONDS", "STALE_TTL_SECONDS", "CACHE_MAX_FAILURES", "STOPS_FILE",
	"DATABASE_URL", "NATS_URL", "NATS_SUBJECT_PREFIX", "WALK_SPEED_MPS",
	"POSITION_MAX_AGE_SECONDS", "METRICS_ENABLED", "METRICS_ADDR",
}

// clearEnv blanks every key so the host environment cannot leak in
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "3000" || !cfg.IsDevelopment() {
		t.Errorf("port/env = %q/%q", cfg.Port, cfg.Env)
	}
	if cfg.FetchTimeout != 3*time.Second {
		t.Errorf("FetchTimeout = %v", cfg.FetchTimeout)
	}
	if cfg.StaleTTL != 120*time.Second {
		t.Errorf("StaleTTL = %v", cfg.StaleTTL)
	}
	if cfg.MaxFailures != 3 {
		t.Errorf("MaxFailures = %d", cfg.MaxFailures)
	}
	if cfg.WalkSpeed != 1.2 {
		t.Errorf("WalkSpeed = %v", cfg.WalkSpeed)
	}
	if !cfg.MetricsEnabled {
		t.Error("metrics should default to enabled")
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("STALE_TTL_SECONDS", "300")
	t.Setenv("WALK_SPEED_MPS", "1.5")
	t.Setenv("METRICS_ENABLED", "off")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.IsDevelopment() {
		t.Errorf("port/env = %q/%q", cfg.Port, cfg.Env)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("level = %v", cfg.Level())
	}
	if cfg.StaleTTL != 5*time.Minute || cfg.WalkSpeed != 1.5 || cfg.MetricsEnabled {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"STALE_TTL_SECONDS", "soon"},
		{"WALK_SPEED_MPS", "fast"},
		{"WALK_SPEED_MPS", "-1"},
		{"CACHE_MAX_FAILURES", "0"},
		{"METRICS_ENABLED", "maybe"},
		{"ENV", "staging"},
		{"PORT", "http"},
		{"METRICS_ADDR", "not an address"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestNewLoggerWithWriter(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithWriter(&buf, slog.LevelInfo, false).Debug("hidden")
	NewLoggerWithWriter(&buf, slog.LevelInfo, false).Info("shown", "stop_id", "S1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line written at info level")
	}
	if !strings.Contains(out, `"stop_id":"S1"`) {
		t.Errorf("expected JSON output, got %s", out)
	}
}
