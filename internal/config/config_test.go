package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.GoodbyeWait != 8*time.Second {
		t.Fatalf("GoodbyeWait = %v, want 8s", cfg.GoodbyeWait)
	}
	if cfg.GoodbyeStartDelay != time.Second {
		t.Fatalf("GoodbyeStartDelay = %v, want 1s", cfg.GoodbyeStartDelay)
	}
	if cfg.SessionDrainTimeout != 5*time.Second {
		t.Fatalf("SessionDrainTimeout = %v, want 5s", cfg.SessionDrainTimeout)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("APP_GOODBYE_WAIT", "2s")
	t.Setenv("APP_GOODBYE_START_DELAY", "250ms")
	t.Setenv("DATABASE_URL", " postgres://localhost/frontdesk ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.GoodbyeWait != 2*time.Second {
		t.Fatalf("GoodbyeWait = %v, want 2s", cfg.GoodbyeWait)
	}
	if cfg.GoodbyeStartDelay != 250*time.Millisecond {
		t.Fatalf("GoodbyeStartDelay = %v, want 250ms", cfg.GoodbyeStartDelay)
	}
	if cfg.DatabaseURL != "postgres://localhost/frontdesk" {
		t.Fatalf("DatabaseURL = %q, want trimmed value", cfg.DatabaseURL)
	}
}

func TestLoadRejectsGoodbyeWaitBelowStartDelay(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_GOODBYE_WAIT", "500ms")
	t.Setenv("APP_GOODBYE_START_DELAY", "1s")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want error for goodbye wait <= start delay")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_SUMMARY_TIMEOUT", "not-a-duration")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want parse error")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_CALL_INACTIVITY_TIMEOUT",
		"APP_GOODBYE_WAIT",
		"APP_GOODBYE_START_DELAY",
		"APP_SESSION_DRAIN_TIMEOUT",
		"APP_SUMMARY_TIMEOUT",
		"APP_STORE_OP_TIMEOUT",
		"APP_EVENT_BUFFER_SIZE",
		"APP_SUMMARIZER_URL",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
