package config

import (
	"os"
	"strings"
	"time"
)

// Config captures process-level configuration. Values come from the
// environment so main stays lean; optional subsystems (postgres, redis,
// kafka) are disabled when their setting is empty.
type Config struct {
	Addr string

	PostgresDSN string

	RedisURL string

	KafkaBrokers    []string
	CompletionTopic string
	ConsumerGroup   string

	IssuerBaseURL    string
	IssuerClientID   string
	IssuerSigningKey string
	IssuerTimeout    time.Duration

	SweepInterval     time.Duration
	AssertionCacheTTL time.Duration
}

// FromEnv builds a Config from environment variables with development defaults.
func FromEnv() Config {
	return Config{
		Addr:              envOr("OPENBADGER_ADDR", ":8080"),
		PostgresDSN:       os.Getenv("OPENBADGER_POSTGRES_DSN"),
		RedisURL:          os.Getenv("OPENBADGER_REDIS_URL"),
		KafkaBrokers:      splitList(os.Getenv("OPENBADGER_KAFKA_BROKERS")),
		CompletionTopic:   envOr("OPENBADGER_COMPLETION_TOPIC", "course-completions"),
		ConsumerGroup:     envOr("OPENBADGER_CONSUMER_GROUP", "openbadger"),
		IssuerBaseURL:     envOr("OPENBADGER_ISSUER_URL", "http://localhost:9090"),
		IssuerClientID:    envOr("OPENBADGER_ISSUER_CLIENT_ID", "openbadger-dev"),
		IssuerSigningKey:  envOr("OPENBADGER_ISSUER_SIGNING_KEY", "dev-secret-key-change-in-production"),
		IssuerTimeout:     durationOr("OPENBADGER_ISSUER_TIMEOUT", 10*time.Second),
		SweepInterval:     durationOr("OPENBADGER_SWEEP_INTERVAL", time.Hour),
		AssertionCacheTTL: durationOr("OPENBADGER_ASSERTION_CACHE_TTL", 10*time.Minute),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
