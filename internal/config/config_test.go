package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "inventory-core", cfg.ServiceName)
	assert.Equal(t, 900, cfg.ReservationTTLSeconds)
	assert.Equal(t, 60, cfg.ReaperIntervalSeconds)
	assert.Equal(t, 100, cfg.ReaperBatchSize)
	assert.Equal(t, 5, cfg.OfflineMaxAttempts)
	assert.Equal(t, 100, cfg.OfflineRetention)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("RESERVATION_TTL_SECONDS", "120")
	t.Setenv("REAPER_BATCH_SIZE", "25")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 120, cfg.ReservationTTLSeconds)
	assert.Equal(t, 25, cfg.ReaperBatchSize)
}

func TestGetEnvAsIntIgnoresGarbage(t *testing.T) {
	t.Setenv("REAPER_BATCH_SIZE", "not-a-number")

	cfg := Load()

	assert.Equal(t, 100, cfg.ReaperBatchSize)
}
