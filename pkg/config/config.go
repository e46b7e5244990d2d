// Package config loads server configuration from the environment.
package config

import (
	"os"
	"strconv"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// AuditBackend selects the decision trace store: "memory" or "redis".
	AuditBackend string
	RedisAddr    string

	// MemoryBackend selects the user memory store: "memory" or "sqlite".
	MemoryBackend string
	SQLitePath    string

	// ScenarioDir holds YAML scenario files loaded at startup; the
	// built-in scenarios register regardless.
	ScenarioDir string

	// Rate limit per client IP on the public surface.
	RateLimitRPS   int
	RateLimitBurst int

	// Observability.
	OTelEnabled  bool
	OTLPEndpoint string
	Environment  string
}

// Load reads configuration from environment variables with defaults that
// run a single node with no external services.
func Load() *Config {
	cfg := &Config{
		Port:           envOr("PORT", "8080"),
		LogLevel:       envOr("LOG_LEVEL", "INFO"),
		AuditBackend:   envOr("ADE_AUDIT_BACKEND", "memory"),
		RedisAddr:      envOr("ADE_REDIS_ADDR", "localhost:6379"),
		MemoryBackend:  envOr("ADE_MEMORY_BACKEND", "memory"),
		SQLitePath:     envOr("ADE_SQLITE_PATH", "ade-memory.db"),
		ScenarioDir:    os.Getenv("ADE_SCENARIO_DIR"),
		RateLimitRPS:   envIntOr("ADE_RATE_LIMIT_RPS", 50),
		RateLimitBurst: envIntOr("ADE_RATE_LIMIT_BURST", 100),
		OTelEnabled:    os.Getenv("ADE_OTEL_ENABLED") == "true",
		OTLPEndpoint:   envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Environment:    envOr("ADE_ENVIRONMENT", "development"),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
