package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GATEHOUSE_ACCESS_SECRET", "a-secret")
	t.Setenv("GATEHOUSE_REFRESH_SECRET", "r-secret")

	cfg := Load()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
	assert.Equal(t, 3, cfg.RetryMax)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GATEHOUSE_ACCESS_SECRET", "a-secret")
	t.Setenv("GATEHOUSE_REFRESH_SECRET", "r-secret")
	t.Setenv("GATEHOUSE_ACCESS_TTL", "5m")
	t.Setenv("GATEHOUSE_CORS_ORIGINS", "https://app.example.com, https://admin.example.com")
	t.Setenv("GATEHOUSE_RATE_BURST", "50")
	t.Setenv("GATEHOUSE_RATE_PER_SEC", "not-a-number")

	cfg := Load()

	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, 50, cfg.RateBurst)
	// malformed values fall back to defaults rather than failing startup
	assert.Equal(t, 10, cfg.RatePerSec)
}

func TestValidateRejectsSharedSecret(t *testing.T) {
	t.Setenv("GATEHOUSE_ACCESS_SECRET", "same")
	t.Setenv("GATEHOUSE_REFRESH_SECRET", "same")

	cfg := Load()
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingSecrets(t *testing.T) {
	t.Setenv("GATEHOUSE_ACCESS_SECRET", "")
	t.Setenv("GATEHOUSE_REFRESH_SECRET", "")

	cfg := Load()
	require.Error(t, cfg.Validate())
}
