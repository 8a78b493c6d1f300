package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("SESSION_TTL_HOURS", "")
	t.Setenv("SLOTS_PREMIUM_CAPACITY", "")

	cfg := Load()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 7*24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 2, cfg.Slots.Premium)
	assert.Equal(t, 6, cfg.Slots.Destacado)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, "America/Santiago", cfg.AppTimeZone)
}

func TestLoadOverridesAndBounds(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SESSION_TTL_HOURS", "12")
	t.Setenv("SLOTS_PREMIUM_CAPACITY", "500") // above max, falls back
	t.Setenv("LOGIN_RATE_RPS", "not-a-number")
	t.Setenv("AUTO_MIGRATE", "false")
	t.Setenv("BOOTSTRAP_ADMIN_EMAIL", "  Root@Modtok.CL ")

	cfg := Load()

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 2, cfg.Slots.Premium)
	assert.InDelta(t, 0.2, cfg.LoginRateRPS, 1e-9)
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, "root@modtok.cl", cfg.BootstrapAdminEmail)
}

func TestLocationFallback(t *testing.T) {
	assert.Equal(t, time.UTC, Config{AppTimeZone: "Mars/Olympus"}.Location())
	assert.Equal(t, time.UTC, Config{}.Location())
}
