package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("SCHEDULER_INTERVAL", "")
	t.Setenv("MAX_RETRIES", "")

	cfg := LoadConfig()

	assert.Equal(t, 60*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 3, cfg.Scheduler.MaxRetries)
	assert.Equal(t, 300*time.Second, cfg.Scheduler.RetryDelay)
	assert.Equal(t, "fixed", cfg.Scheduler.RetryBackoff)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.CallTimeout)
	assert.Equal(t, 10, cfg.Scheduler.Concurrency)
	assert.Equal(t, 5*time.Minute, cfg.RefreshMargin)
	assert.Equal(t, "@every 10m", cfg.TokenRefreshSchedule)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("SCHEDULER_INTERVAL", "15")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("RETRY_DELAY", "20")
	t.Setenv("RETRY_BACKOFF", "Exponential")
	t.Setenv("CALL_TIMEOUT", "7")
	t.Setenv("WORKER_CONCURRENCY", "2")
	t.Setenv("PUBLISH_RATE_PER_SECOND", "0.5")
	t.Setenv("MAX_RETRIES_TYPO", "ignored")

	cfg := LoadConfig()

	assert.Equal(t, 15*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 5, cfg.Scheduler.MaxRetries)
	assert.Equal(t, 20*time.Second, cfg.Scheduler.RetryDelay)
	assert.Equal(t, "exponential", cfg.Scheduler.RetryBackoff)
	assert.Equal(t, 7*time.Second, cfg.Scheduler.CallTimeout)
	assert.Equal(t, 2, cfg.Scheduler.Concurrency)
	assert.InDelta(t, 0.5, cfg.Scheduler.PublishRatePerSec, 0.0001)
}

func TestLoadConfig_BadNumberFallsBack(t *testing.T) {
	t.Setenv("MAX_RETRIES", "three")

	cfg := LoadConfig()
	assert.Equal(t, 3, cfg.Scheduler.MaxRetries)
}

func TestValidate(t *testing.T) {
	t.Setenv("POSTGRES_URI", "postgres://localhost/postflow")
	t.Setenv("SECRET_KEY", "0123456789abcdef")

	cfg := LoadConfig()
	require.NoError(t, cfg.Validate())

	cfg.Scheduler.Concurrency = 0
	cfg.Scheduler.RetryBackoff = "random"
	cfg.SecretKey = "short"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKER_CONCURRENCY")
	assert.Contains(t, err.Error(), "RETRY_BACKOFF")
	assert.Contains(t, err.Error(), "SECRET_KEY")
}

func TestValidate_StaleThreshold(t *testing.T) {
	t.Setenv("POSTGRES_URI", "postgres://localhost/postflow")
	t.Setenv("SECRET_KEY", "0123456789abcdef")

	cfg := LoadConfig()
	cfg.Scheduler.CallTimeout = 30 * time.Second

	cfg.Scheduler.StaleThreshold = 2 * time.Minute
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STALE_THRESHOLD")

	cfg.Scheduler.StaleThreshold = 2*time.Minute + time.Second
	assert.NoError(t, cfg.Validate())
}
