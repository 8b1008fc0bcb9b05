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

	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.Equity.Interval)
	assert.Equal(t, 15*time.Minute, cfg.Crypto.Interval)
	assert.Equal(t, 3, cfg.Recovery.MaxConsecutiveErrors)
	assert.Equal(t, 5, cfg.Recovery.MaxTotalErrors)
	assert.Equal(t, 100_000.0, cfg.InitialCash)
	assert.NotEmpty(t, cfg.Equity.Symbols)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("EQUITY_SYMBOLS", "AAPL, MSFT ,NVDA")
	t.Setenv("EQUITY_INTERVAL_MINUTES", "45")
	t.Setenv("CRYPTO_MAX_DAILY_RUNS", "10")
	t.Setenv("INITIAL_CASH", "25000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, cfg.Equity.Symbols)
	assert.Equal(t, 45*time.Minute, cfg.Equity.Interval)
	assert.Equal(t, 10, cfg.Crypto.MaxDailyRuns)
	assert.Equal(t, 25000.0, cfg.InitialCash)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty equity symbols", func(c *Config) { c.Equity.Symbols = nil }},
		{"equity interval too short", func(c *Config) { c.Equity.Interval = 30 * time.Second }},
		{"equity interval too long", func(c *Config) { c.Equity.Interval = 25 * time.Hour }},
		{"crypto interval too long", func(c *Config) { c.Crypto.Interval = 2 * time.Hour }},
		{"zero daily runs", func(c *Config) { c.Equity.MaxDailyRuns = 0 }},
		{"zero reflection cadence", func(c *Config) { c.Crypto.ReflectionEvery = 0 }},
		{"consecutive above total", func(c *Config) { c.Recovery.MaxTotalErrors = 1 }},
		{"zero base delay", func(c *Config) { c.Recovery.BaseDelay = 0 }},
		{"max delay below base", func(c *Config) { c.Recovery.MaxDelay = time.Second }},
		{"zero cooldown", func(c *Config) { c.Recovery.EmergencyCooldown = 0 }},
		{"missing data dir", func(c *Config) { c.DataDir = "" }},
		{"non-positive initial cash", func(c *Config) { c.InitialCash = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
