package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allKeys = []string{
	"GAPCHAT_ENV_FILE", "PORT", "ENVIRONMENT", "DATABASE_PATH", "JWT_SECRET", "CORS_ORIGINS",
	"LOG_LEVEL", "LOCALE", "EDIT_WINDOW", "INVITE_TTL", "INVITE_CODE_ATTEMPTS", "EVENT_BUFFER",
	"VAPID_PUBLIC_KEY", "VAPID_PRIVATE_KEY", "METRICS_ENABLED",
}

func unsetAll(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		if old, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, old) })
		}
		_ = os.Unsetenv(key)
	}
}

func writeEnvFile(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	return path
}

func TestLoadReadsExplicitEnvFile(t *testing.T) {
	unsetAll(t)

	envPath := writeEnvFile(t, t.TempDir(), `
PORT=9090
ENVIRONMENT=production
DATABASE_PATH=/var/lib/gapchat/gapchat.db
JWT_SECRET=super-secret
CORS_ORIGINS=https://example.com
LOCALE=fa
EDIT_WINDOW=5m
INVITE_TTL=2h
INVITE_CODE_ATTEMPTS=3
EVENT_BUFFER=64
METRICS_ENABLED=false
`)
	t.Setenv("GAPCHAT_ENV_FILE", envPath)
	t.Cleanup(func() {
		for _, key := range allKeys {
			_ = os.Unsetenv(key)
		}
	})

	cfg := Load()

	if cfg.Port != "9090" {
		t.Fatalf("Port = %q, want %q", cfg.Port, "9090")
	}
	if cfg.Environment != "production" {
		t.Fatalf("Environment = %q, want %q", cfg.Environment, "production")
	}
	if cfg.DatabasePath != "/var/lib/gapchat/gapchat.db" {
		t.Fatalf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.JWTSecret != "super-secret" {
		t.Fatalf("JWTSecret = %q", cfg.JWTSecret)
	}
	if cfg.Locale != "fa" {
		t.Fatalf("Locale = %q", cfg.Locale)
	}
	if cfg.EditWindow != 5*time.Minute {
		t.Fatalf("EditWindow = %s, want 5m", cfg.EditWindow)
	}
	if cfg.InviteTTL != 2*time.Hour {
		t.Fatalf("InviteTTL = %s, want 2h", cfg.InviteTTL)
	}
	if cfg.InviteCodeAttempts != 3 {
		t.Fatalf("InviteCodeAttempts = %d, want 3", cfg.InviteCodeAttempts)
	}
	if cfg.EventBuffer != 64 {
		t.Fatalf("EventBuffer = %d, want 64", cfg.EventBuffer)
	}
	if cfg.MetricsEnabled {
		t.Fatalf("MetricsEnabled = true, want false")
	}
}

func TestLoadEnvVarOverridesEnvFile(t *testing.T) {
	unsetAll(t)

	envPath := writeEnvFile(t, t.TempDir(), `
PORT=9090
DATABASE_PATH=/var/lib/gapchat/gapchat.db
JWT_SECRET=file-secret
`)
	t.Setenv("GAPCHAT_ENV_FILE", envPath)
	t.Setenv("DATABASE_PATH", "/override.db")
	t.Setenv("PORT", "7777")
	t.Cleanup(func() { _ = os.Unsetenv("JWT_SECRET") })

	cfg := Load()

	if cfg.Port != "7777" {
		t.Fatalf("Port = %q, want %q", cfg.Port, "7777")
	}
	if cfg.DatabasePath != "/override.db" {
		t.Fatalf("DatabasePath = %q, want %q", cfg.DatabasePath, "/override.db")
	}
	if cfg.JWTSecret != "file-secret" {
		t.Fatalf("JWTSecret = %q", cfg.JWTSecret)
	}
}

func TestLoadFallsBackToDefaultsWhenNoEnvFile(t *testing.T) {
	unsetAll(t)
	t.Setenv("GAPCHAT_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("EDIT_WINDOW", "not-a-duration")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want %q", cfg.Port, "8080")
	}
	if cfg.DatabasePath != "./data/gapchat.db" {
		t.Fatalf("DatabasePath = %q, want default", cfg.DatabasePath)
	}
	if cfg.EditWindow != 15*time.Minute {
		t.Fatalf("EditWindow = %s, want 15m", cfg.EditWindow)
	}
	if cfg.InviteCodeAttempts != 5 {
		t.Fatalf("InviteCodeAttempts = %d, want 5", cfg.InviteCodeAttempts)
	}
	if !cfg.MetricsEnabled {
		t.Fatalf("MetricsEnabled = false, want true")
	}
}
