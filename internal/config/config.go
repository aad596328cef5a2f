package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the relay service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogLevel         string

	IdleTimeout    time.Duration
	GracePeriod    time.Duration
	SnapshotTTL    time.Duration
	TurnQueueDepth int

	BaseDTMFMode    string
	WelcomeGreeting string

	DefaultTTSLanguage           string
	DefaultTranscriptionLanguage string
	SupportedLanguages           []string

	AgentAdapterMode string
	AgentHTTPURL     string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                     envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:             envOrDefault("APP_METRICS_NAMESPACE", "relayline"),
		LogLevel:                     envOrDefault("APP_LOG_LEVEL", "info"),
		ShutdownTimeout:              15 * time.Second,
		IdleTimeout:                  10 * time.Second,
		GracePeriod:                  20 * time.Second,
		SnapshotTTL:                  30 * time.Minute,
		BaseDTMFMode:                 envOrDefault("RELAY_BASE_DTMF_MODE", "phone_number"),
		WelcomeGreeting:              strings.TrimSpace(os.Getenv("RELAY_WELCOME_GREETING")),
		DefaultTTSLanguage:           envOrDefault("RELAY_DEFAULT_TTS_LANGUAGE", "en-US"),
		DefaultTranscriptionLanguage: envOrDefault("RELAY_DEFAULT_TRANSCRIPTION_LANGUAGE", "en-US"),
		AgentAdapterMode:             envOrDefault("AGENT_ADAPTER_MODE", "auto"),
		AgentHTTPURL:                 strings.TrimSpace(os.Getenv("AGENT_HTTP_URL")),
		DatabaseURL:                  strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}

	cfg.SupportedLanguages = splitList(envOrDefault("RELAY_SUPPORTED_LANGUAGES", "en-US,es-US"))

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.IdleTimeout, err = durationFromEnv("RELAY_IDLE_TIMEOUT", cfg.IdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GracePeriod, err = durationFromEnv("RELAY_GRACE_PERIOD", cfg.GracePeriod)
	if err != nil {
		return Config{}, err
	}
	cfg.SnapshotTTL, err = durationFromEnv("RELAY_SNAPSHOT_TTL", cfg.SnapshotTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnQueueDepth, err = intFromEnv("RELAY_TURN_QUEUE_DEPTH", 16)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", false)
	if err != nil {
		return Config{}, err
	}

	if cfg.IdleTimeout < time.Second {
		return Config{}, fmt.Errorf("RELAY_IDLE_TIMEOUT must be at least 1s")
	}
	if cfg.GracePeriod < time.Second {
		return Config{}, fmt.Errorf("RELAY_GRACE_PERIOD must be at least 1s")
	}
	// The grace period is operational cleanup of in-memory sessions; the
	// TTL is the data-retention bound. The first must stay inside the second.
	if cfg.GracePeriod >= cfg.SnapshotTTL {
		return Config{}, fmt.Errorf("RELAY_GRACE_PERIOD must be shorter than RELAY_SNAPSHOT_TTL")
	}
	if cfg.TurnQueueDepth < 1 {
		return Config{}, fmt.Errorf("RELAY_TURN_QUEUE_DEPTH must be at least 1")
	}
	if len(cfg.SupportedLanguages) == 0 {
		return Config{}, fmt.Errorf("RELAY_SUPPORTED_LANGUAGES must list at least one locale")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
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
	v := strings.TrimSpace(os.Getenv(key))
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
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
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
