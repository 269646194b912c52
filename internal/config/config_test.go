package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	t.Setenv("DATABASE_URL", "postgres://localhost/meters")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 4, cfg.SweepConcurrency)
	assert.Equal(t, 50.0, cfg.DefaultMinBalance)
	assert.Equal(t, "11:00", cfg.ReminderTime)
	assert.False(t, cfg.Intent.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	t.Setenv("DATABASE_URL", "postgres://localhost/meters")
	t.Setenv("SWEEP_CONCURRENCY", "8")
	t.Setenv("DEFAULT_MIN_BALANCE", "75.5")
	t.Setenv("NESCO_TIMEOUT_SECONDS", "10")
	t.Setenv("AI_AGENT_ENABLED", "true")
	t.Setenv("AI_AGENT_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.SweepConcurrency)
	assert.Equal(t, 75.5, cfg.DefaultMinBalance)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.True(t, cfg.Intent.Enabled)
	assert.Equal(t, "secret", cfg.Intent.APIKey)
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	t.Setenv("DATABASE_URL", "postgres://localhost/meters")
	t.Setenv("SWEEP_CONCURRENCY", "many")
	t.Setenv("DEFAULT_MIN_BALANCE", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.SweepConcurrency)
	assert.Equal(t, 50.0, cfg.DefaultMinBalance)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/meters")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	t.Setenv("DATABASE_URL", "")
	_, err = Load()
	require.Error(t, err)
}
