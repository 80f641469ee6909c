package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiration)
	assert.Equal(t, "tracemesh", cfg.ServiceName)
	assert.Equal(t, 8, cfg.EnrichmentWorkers)
	assert.Empty(t, cfg.APIKey, "auth disabled by default")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TRACEMESH_PORT", "9090")
	t.Setenv("TRACEMESH_LOG_LEVEL", "debug")
	t.Setenv("TRACEMESH_JWT_EXPIRATION", "1h")
	t.Setenv("TRACEMESH_API_KEY", "tm_secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, time.Hour, cfg.JWTExpiration)
	assert.Equal(t, "tm_secret", cfg.APIKey)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("TRACEMESH_PORT", "not-a-number")
	t.Setenv("TRACEMESH_READ_TIMEOUT", "sideways")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.DatabaseURL = ""
	assert.Error(t, cfg.Validate())

	cfg, _ = Load()
	cfg.Port = 0
	assert.Error(t, cfg.Validate())

	cfg, _ = Load()
	cfg.EnrichmentWorkers = 0
	assert.Error(t, cfg.Validate())

	cfg, _ = Load()
	cfg.MaxRequestBodyBytes = 0
	assert.Error(t, cfg.Validate())
}

func TestRateLimitConfig(t *testing.T) {
	t.Setenv("TRACEMESH_RATE_LIMIT_ENABLED", "true")
	t.Setenv("TRACEMESH_RATE_LIMIT_RPS", "12.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.RateLimitEnabled)
	assert.Equal(t, 12.5, cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)

	cfg.RateLimitBurst = 0
	assert.Error(t, cfg.Validate())
}
