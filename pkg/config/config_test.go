package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.AuditBackend)
	assert.Equal(t, "memory", cfg.MemoryBackend)
	assert.Equal(t, 50, cfg.RateLimitRPS)
	assert.False(t, cfg.OTelEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ADE_AUDIT_BACKEND", "redis")
	t.Setenv("ADE_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("ADE_MEMORY_BACKEND", "sqlite")
	t.Setenv("ADE_RATE_LIMIT_RPS", "5")
	t.Setenv("ADE_OTEL_ENABLED", "true")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "redis", cfg.AuditBackend)
	assert.Equal(t, "redis.internal:6379", cfg.RedisAddr)
	assert.Equal(t, "sqlite", cfg.MemoryBackend)
	assert.Equal(t, 5, cfg.RateLimitRPS)
	assert.True(t, cfg.OTelEnabled)
}

func TestBadIntFallsBack(t *testing.T) {
	t.Setenv("ADE_RATE_LIMIT_RPS", "many")
	cfg := Load()
	assert.Equal(t, 50, cfg.RateLimitRPS)
}
