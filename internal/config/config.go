package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the frontdesk booking agent.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// Call lifecycle.
	CallInactivityTimeout time.Duration

	// Teardown pacing. GoodbyeWait is the total budget for the goodbye
	// message to be generated, synthesized, and played before the call is
	// dropped. GoodbyeStartDelay models the gap between the tool returning
	// and audio starting to play.
	GoodbyeWait         time.Duration
	GoodbyeStartDelay   time.Duration
	SessionDrainTimeout time.Duration
	SummaryTimeout      time.Duration

	// Budget for a single appointment store round-trip.
	StoreOpTimeout time.Duration

	EventBufferSize int

	DatabaseURL string

	// SummarizerURL, when set, points at an HTTP summarization endpoint.
	// Empty means summaries fall back to raw transcript text.
	SummarizerURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:              envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:      envOrDefault("APP_METRICS_NAMESPACE", "frontdesk"),
		AllowAnyOrigin:        false,
		ShutdownTimeout:       15 * time.Second,
		CallInactivityTimeout: 5 * time.Minute,
		GoodbyeWait:           8 * time.Second,
		GoodbyeStartDelay:     time.Second,
		SessionDrainTimeout:   5 * time.Second,
		SummaryTimeout:        10 * time.Second,
		StoreOpTimeout:        3 * time.Second,
		EventBufferSize:       64,
		DatabaseURL:           trimmedEnv("DATABASE_URL"),
		SummarizerURL:         trimmedEnv("APP_SUMMARIZER_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CallInactivityTimeout, err = durationFromEnv("APP_CALL_INACTIVITY_TIMEOUT", cfg.CallInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GoodbyeWait, err = durationFromEnv("APP_GOODBYE_WAIT", cfg.GoodbyeWait)
	if err != nil {
		return Config{}, err
	}
	cfg.GoodbyeStartDelay, err = durationFromEnv("APP_GOODBYE_START_DELAY", cfg.GoodbyeStartDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionDrainTimeout, err = durationFromEnv("APP_SESSION_DRAIN_TIMEOUT", cfg.SessionDrainTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SummaryTimeout, err = durationFromEnv("APP_SUMMARY_TIMEOUT", cfg.SummaryTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StoreOpTimeout, err = durationFromEnv("APP_STORE_OP_TIMEOUT", cfg.StoreOpTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EventBufferSize, err = intFromEnv("APP_EVENT_BUFFER_SIZE", cfg.EventBufferSize)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.CallInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_CALL_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.GoodbyeWait <= cfg.GoodbyeStartDelay {
		return Config{}, fmt.Errorf("APP_GOODBYE_WAIT must exceed APP_GOODBYE_START_DELAY")
	}
	if cfg.SessionDrainTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_SESSION_DRAIN_TIMEOUT must be positive")
	}
	if cfg.SummaryTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_SUMMARY_TIMEOUT must be positive")
	}
	if cfg.StoreOpTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_STORE_OP_TIMEOUT must be positive")
	}
	if cfg.EventBufferSize <= 0 {
		return Config{}, fmt.Errorf("APP_EVENT_BUFFER_SIZE must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
