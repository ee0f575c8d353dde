package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PANEL_BACKEND_URL", "")
	t.Setenv("PANEL_SESSION_TTL_SECONDS", "")
	t.Setenv("PANEL_CSRF_COOKIE", "")

	cfg := Load()

	if cfg.BackendURL != "http://localhost:8000" {
		t.Fatalf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.SessionTTL != 8*time.Hour {
		t.Fatalf("SessionTTL = %v, want 8h", cfg.SessionTTL)
	}
	if cfg.CSRFCookie != "csrf_token" || cfg.CSRFHeader != "X-CSRF-Token" {
		t.Fatalf("unexpected csrf settings: %q / %q", cfg.CSRFCookie, cfg.CSRFHeader)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PANEL_BACKEND_URL", "https://colegio.example/api")
	t.Setenv("PANEL_SESSION_TTL_SECONDS", "60")
	t.Setenv("PANEL_COOKIE_SECURE", "true")
	t.Setenv("MINIO_USE_SSL", "not-a-bool")

	cfg := Load()

	if cfg.BackendURL != "https://colegio.example/api" {
		t.Fatalf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.SessionTTL != time.Minute {
		t.Fatalf("SessionTTL = %v, want 1m", cfg.SessionTTL)
	}
	if !cfg.CookieSecure {
		t.Fatal("expected CookieSecure")
	}
	if cfg.MinioUseSSL {
		t.Fatal("invalid bool should fall back to default false")
	}
}

func TestGetenvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("PANEL_TEST_INT", "abc")
	if got := getenvInt("PANEL_TEST_INT", 7); got != 7 {
		t.Fatalf("getenvInt = %d, want 7", got)
	}
}
