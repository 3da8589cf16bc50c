package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// AppConfig holds the HTTP server settings.
type AppConfig struct {
	Port     string
	LogLevel slog.Level
}

// DBConfig holds the Postgres connection settings for the audit store.
type DBConfig struct {
	URL string
}

// BrokerConfig holds the RabbitMQ settings for the dispatch exchange.
type BrokerConfig struct {
	URL      string
	Exchange string
}

// ProfileConfig holds the user-profile service settings. Timeout is the
// single per-call dependency timeout; earlier revisions of this pipeline
// carried two conflicting values, this is the deliberate one.
type ProfileConfig struct {
	BaseURL string
	Timeout time.Duration
}

// BreakerConfig holds the circuit breaker policy for the profile dependency.
type BreakerConfig struct {
	Window       time.Duration
	MinSamples   int
	FailureRatio float64
	Cooldown     time.Duration
}

// TracingConfig holds the OTLP collector settings. Tracing is skipped when
// Endpoint is empty.
type TracingConfig struct {
	Endpoint    string
	ServiceName string
}

// Config is the full notifyd configuration loaded from the environment.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Broker  BrokerConfig
	Profile ProfileConfig
	Breaker BreakerConfig
	Tracing TracingConfig
}

// LoadConfig loads configuration from environment variables. Connection
// addresses are required; policy knobs fall back to defaults.
func LoadConfig() (Config, error) {
	cfg := Config{
		App: AppConfig{
			Port:     getEnv("NOTIFYD_HTTP_PORT", "8080"),
			LogLevel: parseLogLevel(os.Getenv("NOTIFYD_LOG_LEVEL")),
		},
		DB: DBConfig{
			URL: os.Getenv("NOTIFYD_DB_URL"),
		},
		Broker: BrokerConfig{
			URL:      os.Getenv("NOTIFYD_AMQP_URL"),
			Exchange: getEnv("NOTIFYD_EXCHANGE", "notifications"),
		},
		Profile: ProfileConfig{
			BaseURL: os.Getenv("NOTIFYD_PROFILE_URL"),
			Timeout: getDuration("NOTIFYD_PROFILE_TIMEOUT", 5*time.Second),
		},
		Breaker: BreakerConfig{
			Window:       getDuration("NOTIFYD_BREAKER_WINDOW", time.Minute),
			MinSamples:   getInt("NOTIFYD_BREAKER_MIN_SAMPLES", 10),
			FailureRatio: getFloat("NOTIFYD_BREAKER_FAILURE_RATIO", 0.5),
			Cooldown:     getDuration("NOTIFYD_BREAKER_COOLDOWN", 30*time.Second),
		},
		Tracing: TracingConfig{
			Endpoint:    os.Getenv("NOTIFYD_OTLP_ENDPOINT"),
			ServiceName: getEnv("NOTIFYD_SERVICE_NAME", "notifyd"),
		},
	}

	if cfg.DB.URL == "" {
		return Config{}, fmt.Errorf("NOTIFYD_DB_URL not set")
	}
	if cfg.Broker.URL == "" {
		return Config{}, fmt.Errorf("NOTIFYD_AMQP_URL not set")
	}
	if cfg.Profile.BaseURL == "" {
		return Config{}, fmt.Errorf("NOTIFYD_PROFILE_URL not set")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 || v > 1 {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
