package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Bridge config
	assert.Equal(t, "terabithia", cfg.Bridge.ID)
	assert.True(t, cfg.Bridge.Proxies)
	assert.Equal(t, 30*time.Second, cfg.Bridge.CallTimeout)
	assert.Equal(t, "ulid", cfg.Bridge.IDFormat)

	// Transport config
	assert.Equal(t, "memory", cfg.Transport.Kind)
	assert.Equal(t, "tab-1", cfg.Transport.TabID)

	// Relay config
	assert.Equal(t, "0.0.0.0:8090", cfg.Relay.Addr())
	assert.Equal(t, 100, cfg.Relay.RateLimit.RequestsPerSecond)
	assert.True(t, cfg.Relay.RateLimit.Enabled)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"BRIDGE_ID":                "ext-42",
		"BRIDGE_PROXIES":           "false",
		"BRIDGE_CALL_TIMEOUT":      "2s",
		"BRIDGE_ID_FORMAT":         "uuid",
		"TRANSPORT":                "redis",
		"TAB_ID":                   "tab-9",
		"REDIS_ADDR":               "redis:6379",
		"RELAY_PORT":               "9999",
		"RELAY_RATE_LIMIT_ENABLED": "false",
		"SANDBOX_TIMEOUT":          "250ms",
		"LOG_LEVEL":                "debug",
		"LOG_DEV":                  "true",
	}

	for key, value := range envVars {
		require.NoError(t, os.Setenv(key, value))
	}
	defer func() {
		for key := range envVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ext-42", cfg.Bridge.ID)
	assert.False(t, cfg.Bridge.Proxies)
	assert.Equal(t, 2*time.Second, cfg.Bridge.CallTimeout)
	assert.Equal(t, "uuid", cfg.Bridge.IDFormat)
	assert.Equal(t, "redis", cfg.Transport.Kind)
	assert.Equal(t, "tab-9", cfg.Transport.TabID)
	assert.Equal(t, "redis:6379", cfg.Transport.RedisAddr)
	assert.Equal(t, "9999", cfg.Relay.Port)
	assert.False(t, cfg.Relay.RateLimit.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Sandbox.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadInvalidDuration(t *testing.T) {
	require.NoError(t, os.Setenv("BRIDGE_CALL_TIMEOUT", "soon"))
	defer os.Unsetenv("BRIDGE_CALL_TIMEOUT")

	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 30*time.Second, cfg.Bridge.CallTimeout)
}
