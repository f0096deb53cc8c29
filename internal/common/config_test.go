package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DB_URL", "test.db")
	t.Setenv("GEMINI_API_KEY", "k")

	cfg := LoadConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.Worker.Workers)
	assert.Equal(t, 3*time.Minute, cfg.Worker.JobTimeout)
	assert.Equal(t, 8, cfg.Limiter.MaxConcurrency)
	assert.Equal(t, 4000, cfg.Limiter.RequestsPerMinute)
	assert.Equal(t, "gemini-2.5-pro", cfg.Provider.Model)
	assert.Equal(t, 1, cfg.Credits.PageCost)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DB_URL", "postgres://u:p@localhost/db")
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("WORKERS", "12")
	t.Setenv("PROVIDER_REQUESTS_PER_MINUTE", "60")
	t.Setenv("PAGE_COST", "0")
	t.Setenv("GEMINI_TIMEOUT", "45s")

	cfg := LoadConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 12, cfg.Worker.Workers)
	assert.Equal(t, 60, cfg.Limiter.RequestsPerMinute)
	assert.Equal(t, 0, cfg.Credits.PageCost)
	assert.Equal(t, 45*time.Second, cfg.Provider.Timeout)
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	t.Setenv("DB_URL", "")
	t.Setenv("GEMINI_API_KEY", "k")
	require.Error(t, LoadConfig().Validate())

	t.Setenv("DB_URL", "test.db")
	t.Setenv("GEMINI_API_KEY", "")
	require.Error(t, LoadConfig().Validate())
}
