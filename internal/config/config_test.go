package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadFallsBackOnInvalidDurations(t *testing.T) {
	t.Setenv("SESSION_TTL_MINUTES", "nope")
	t.Setenv("DASHBOARD_CACHE_TTL_SECONDS", "-4")

	cfg := Load()
	if cfg.SessionTTL() != 480*time.Minute {
		t.Fatalf("expected default session ttl, got %s", cfg.SessionTTL())
	}
	if cfg.DashboardCacheTTL() != time.Minute {
		t.Fatalf("expected default cache ttl, got %s", cfg.DashboardCacheTTL())
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	t.Setenv("APP_TIMEZONE", "Not/AZone")

	if loc := Load().Location(); loc != time.UTC {
		t.Fatalf("expected UTC fallback, got %s", loc)
	}
}
