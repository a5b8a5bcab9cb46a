package config

import (
	"testing"
	"time"
)

// The filter body cap applies before the upload handler ever sees a
// request, so the defaults must let a maximum-size document through
// with room for multipart framing.
func TestDefaultBodyCapAdmitsMaxDocument(t *testing.T) {
	t.Setenv("FILTER_MAX_BODY_BYTES", "")
	t.Setenv("STORAGE_MAX_DOCUMENT_BYTES", "")

	cfg := Load()

	if cfg.Filter.MaxBodyBytes <= cfg.Storage.MaxDocumentBytes {
		t.Errorf("Filter.MaxBodyBytes = %d, want more than Storage.MaxDocumentBytes = %d",
			cfg.Filter.MaxBodyBytes, cfg.Storage.MaxDocumentBytes)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FILTER_MAX_BODY_BYTES", "2097152")
	t.Setenv("AUTH_MAX_LOGIN_ATTEMPTS", "3")
	t.Setenv("AUTH_LOCKOUT_DURATION", "30m")
	t.Setenv("RATE_LIMIT_BACKEND", "redis")
	t.Setenv("FILTER_BYPASS_PATHS", "/health, /metrics")

	cfg := Load()

	if cfg.Filter.MaxBodyBytes != 2097152 {
		t.Errorf("Filter.MaxBodyBytes = %d, want 2097152", cfg.Filter.MaxBodyBytes)
	}
	if cfg.Auth.MaxLoginAttempts != 3 {
		t.Errorf("Auth.MaxLoginAttempts = %d, want 3", cfg.Auth.MaxLoginAttempts)
	}
	if cfg.Auth.LockoutDuration != 30*time.Minute {
		t.Errorf("Auth.LockoutDuration = %v, want 30m", cfg.Auth.LockoutDuration)
	}
	if cfg.RateLimit.Backend != "redis" {
		t.Errorf("RateLimit.Backend = %q, want redis", cfg.RateLimit.Backend)
	}
	if len(cfg.Filter.BypassPaths) != 2 || cfg.Filter.BypassPaths[1] != "/metrics" {
		t.Errorf("Filter.BypassPaths = %v, want [/health /metrics]", cfg.Filter.BypassPaths)
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{
		Host:     "db.internal",
		Port:     "5432",
		User:     "records",
		Password: "secret",
		DBName:   "student_records",
		SSLMode:  "require",
	}

	want := "host=db.internal port=5432 user=records password=secret dbname=student_records sslmode=require"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
