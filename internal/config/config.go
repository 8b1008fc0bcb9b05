// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/quantpulse/quantpulse/internal/domain"
)

// Interval bounds per market class, in minutes.
const (
	MinIntervalMinutes       = 1
	MaxEquityIntervalMinutes = 1440
	MaxCryptoIntervalMinutes = 60
)

// Config holds application configuration
type Config struct {
	Port     int
	LogLevel string
	DevMode  bool
	DataDir  string

	Equity domain.MarketConfig
	Crypto domain.MarketConfig

	Recovery RecoveryConfig

	MarketDataURL       string
	ReasoningServiceURL string

	// InitialCash seeds the paper portfolio on a fresh data directory.
	InitialCash float64

	// CycleRetentionDays bounds how long cycle history is kept; zero
	// disables pruning.
	CycleRetentionDays int

	// S3-compatible bucket for post-mortem snapshots; empty disables upload.
	SnapshotBucket   string
	SnapshotEndpoint string

	StopTimeout time.Duration
}

// RecoveryConfig holds the error-recovery tuning constants. These are
// arbitrary operational knobs, not load-bearing correctness constants,
// so they are exposed here rather than hardcoded.
type RecoveryConfig struct {
	MaxConsecutiveErrors int
	MaxTotalErrors       int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	EmergencyCooldown    time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnvAsInt("PORT", 8090),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		DataDir:  getEnv("DATA_DIR", "./data"),

		Equity: domain.MarketConfig{
			Market:          domain.MarketEquity,
			Symbols:         getEnvAsList("EQUITY_SYMBOLS", []string{"AAPL", "MSFT", "GOOGL", "NVDA", "SPY"}),
			Interval:        time.Duration(getEnvAsInt("EQUITY_INTERVAL_MINUTES", 30)) * time.Minute,
			TradingEnabled:  getEnvAsBool("EQUITY_TRADING_ENABLED", false),
			AIEnabled:       getEnvAsBool("EQUITY_AI_ENABLED", true),
			ReflectionEvery: getEnvAsInt("EQUITY_REFLECTION_EVERY", 10),
			ReportEvery:     getEnvAsInt("EQUITY_REPORT_EVERY", 20),
			MaxDailyRuns:    getEnvAsInt("EQUITY_MAX_DAILY_RUNS", 12),
		},
		Crypto: domain.MarketConfig{
			Market:          domain.MarketCrypto,
			Symbols:         getEnvAsList("CRYPTO_SYMBOLS", []string{"BTC-USD", "ETH-USD", "SOL-USD"}),
			Interval:        time.Duration(getEnvAsInt("CRYPTO_INTERVAL_MINUTES", 15)) * time.Minute,
			TradingEnabled:  getEnvAsBool("CRYPTO_TRADING_ENABLED", false),
			AIEnabled:       getEnvAsBool("CRYPTO_AI_ENABLED", true),
			ReflectionEvery: getEnvAsInt("CRYPTO_REFLECTION_EVERY", 24),
			ReportEvery:     getEnvAsInt("CRYPTO_REPORT_EVERY", 48),
			MaxDailyRuns:    getEnvAsInt("CRYPTO_MAX_DAILY_RUNS", 96),
		},

		Recovery: RecoveryConfig{
			MaxConsecutiveErrors: getEnvAsInt("RECOVERY_MAX_CONSECUTIVE_ERRORS", 3),
			MaxTotalErrors:       getEnvAsInt("RECOVERY_MAX_TOTAL_ERRORS", 5),
			BaseDelay:            time.Duration(getEnvAsInt("RECOVERY_BASE_DELAY_SECONDS", 30)) * time.Second,
			MaxDelay:             time.Duration(getEnvAsInt("RECOVERY_MAX_DELAY_MINUTES", 15)) * time.Minute,
			EmergencyCooldown:    time.Duration(getEnvAsInt("RECOVERY_COOLDOWN_MINUTES", 10)) * time.Minute,
		},

		MarketDataURL:       getEnv("MARKET_DATA_URL", "http://localhost:8100"),
		ReasoningServiceURL: getEnv("REASONING_SERVICE_URL", "http://localhost:8200"),

		InitialCash:        getEnvAsFloat("INITIAL_CASH", 100_000),
		CycleRetentionDays: getEnvAsInt("CYCLE_RETENTION_DAYS", 90),

		SnapshotBucket:   getEnv("SNAPSHOT_BUCKET", ""),
		SnapshotEndpoint: getEnv("SNAPSHOT_ENDPOINT", ""),

		StopTimeout: time.Duration(getEnvAsInt("STOP_TIMEOUT_SECONDS", 120)) * time.Second,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration invariants. Violations here are fatal at
// startup and are never retried.
func (c *Config) Validate() error {
	if err := validateMarket(c.Equity, MaxEquityIntervalMinutes); err != nil {
		return err
	}
	if err := validateMarket(c.Crypto, MaxCryptoIntervalMinutes); err != nil {
		return err
	}

	r := c.Recovery
	if r.MaxConsecutiveErrors < 1 {
		return fmt.Errorf("recovery max consecutive errors must be >= 1")
	}
	if r.MaxTotalErrors < r.MaxConsecutiveErrors {
		return fmt.Errorf("recovery max total errors must be >= max consecutive errors")
	}
	if r.BaseDelay <= 0 || r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("recovery delays invalid: base=%s max=%s", r.BaseDelay, r.MaxDelay)
	}
	if r.EmergencyCooldown <= 0 {
		return fmt.Errorf("recovery emergency cooldown must be positive")
	}

	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.InitialCash <= 0 {
		return fmt.Errorf("initial cash must be positive")
	}

	return nil
}

func validateMarket(mc domain.MarketConfig, maxIntervalMinutes int) error {
	if len(mc.Symbols) == 0 {
		return fmt.Errorf("%s: symbol list must not be empty", mc.Market)
	}
	minutes := int(mc.Interval / time.Minute)
	if minutes < MinIntervalMinutes || minutes > maxIntervalMinutes {
		return fmt.Errorf("%s: interval %d minutes outside [%d, %d]",
			mc.Market, minutes, MinIntervalMinutes, maxIntervalMinutes)
	}
	if mc.MaxDailyRuns < 1 {
		return fmt.Errorf("%s: max daily runs must be >= 1", mc.Market)
	}
	if mc.ReflectionEvery < 1 || mc.ReportEvery < 1 {
		return fmt.Errorf("%s: reflection/report frequencies must be >= 1", mc.Market)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
