package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_PORT", "STORE_BACKEND", "QUEUE_BACKEND", "ARCHIVE_BACKEND", "ADMIN_PASSWORD", "TICK_INTERVAL", "DEFAULT_DURATION_MINUTES"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.HTTPPort != "8081" {
		t.Errorf("HTTPPort: got %q, want 8081", cfg.HTTPPort)
	}
	if cfg.StoreBackend != "memory" || cfg.QueueBackend != "memory" || cfg.ArchiveBackend != "none" {
		t.Errorf("backends: store=%q queue=%q archive=%q", cfg.StoreBackend, cfg.QueueBackend, cfg.ArchiveBackend)
	}
	if cfg.AdminPassword != "1234" {
		t.Errorf("AdminPassword: got %q", cfg.AdminPassword)
	}
	if cfg.TickInterval != time.Second {
		t.Errorf("TickInterval: got %s", cfg.TickInterval)
	}
	if cfg.DefaultDuration != 30 {
		t.Errorf("DefaultDuration: got %d", cfg.DefaultDuration)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("ACCESS_TTL", "15m")
	t.Setenv("REPORT_TZ", "Asia/Tokyo")

	cfg := Load()
	if cfg.StoreBackend != "redis" {
		t.Errorf("StoreBackend: got %q", cfg.StoreBackend)
	}
	if cfg.RateLimitPerMin != 30 {
		t.Errorf("RateLimitPerMin: got %d", cfg.RateLimitPerMin)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Errorf("AccessTTL: got %s", cfg.AccessTTL)
	}
	if cfg.ReportLocation.String() != "Asia/Tokyo" {
		t.Errorf("ReportLocation: got %s", cfg.ReportLocation)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")
	t.Setenv("TICK_INTERVAL", "soon")
	t.Setenv("REPORT_TZ", "Mars/Olympus")

	cfg := Load()
	if cfg.RateLimitPerMin != 600 {
		t.Errorf("RateLimitPerMin: got %d, want fallback 600", cfg.RateLimitPerMin)
	}
	if cfg.TickInterval != time.Second {
		t.Errorf("TickInterval: got %s, want fallback 1s", cfg.TickInterval)
	}
	if cfg.ReportLocation != time.Local {
		t.Errorf("ReportLocation: got %s, want Local", cfg.ReportLocation)
	}
}
