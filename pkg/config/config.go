// Package config loads process settings from the environment and network
// profiles from YAML.
package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/tokenledger/pkg/builder"
	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
)

// Vault drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds process configuration.
type Config struct {
	Party       string
	LogLevel    string
	LogFormat   string // "text" | "json"
	VaultDriver string
	DatabaseURL string
	RedisAddr   string // empty means in-memory uniqueness
	SwapRate    float64
	KeySeed     string // hex; empty means a random seed

	OTelEnabled  bool
	OTelEndpoint string

	ArchiveBucket   string
	ArchiveRegion   string
	ArchiveEndpoint string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Party:           getenv("LEDGER_PARTY", "Alice"),
		LogLevel:        strings.ToUpper(getenv("LOG_LEVEL", "INFO")),
		LogFormat:       strings.ToLower(getenv("LOG_FORMAT", "text")),
		VaultDriver:     strings.ToLower(getenv("VAULT_DRIVER", DriverMemory)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		SwapRate:        builder.DefaultRickMortyRate,
		KeySeed:         os.Getenv("KEY_SEED"),
		OTelEnabled:     os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:    getenv("OTEL_ENDPOINT", "localhost:4317"),
		ArchiveBucket:   os.Getenv("ARCHIVE_BUCKET"),
		ArchiveRegion:   getenv("ARCHIVE_REGION", "us-east-1"),
		ArchiveEndpoint: os.Getenv("ARCHIVE_ENDPOINT"),
	}

	if raw := os.Getenv("SWAP_RATE"); raw != "" {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil || rate <= 0 {
			return nil, fmt.Errorf("SWAP_RATE must be a positive number, got %q", raw)
		}
		cfg.SwapRate = rate
	}

	switch cfg.VaultDriver {
	case DriverMemory:
	case DriverSQLite:
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = "file:tokenledger.db?_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for VAULT_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown VAULT_DRIVER %q", cfg.VaultDriver)
	}

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("unknown LOG_FORMAT %q", cfg.LogFormat)
	}
	if _, err := cfg.Seed(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Seed decodes KeySeed. It returns nil when no seed is configured.
func (c *Config) Seed() ([]byte, error) {
	if c.KeySeed == "" {
		return nil, nil
	}
	seed, err := hex.DecodeString(c.KeySeed)
	if err != nil {
		return nil, fmt.Errorf("KEY_SEED must be hex: %w", err)
	}
	if len(seed) < 16 {
		return nil, fmt.Errorf("KEY_SEED must be at least 16 bytes, got %d", len(seed))
	}
	return seed, nil
}

// Level maps LogLevel to a slog level. Unknown values mean INFO.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Rates returns the exchange rate table for SwapRate.
func (c *Config) Rates() (*builder.RateTable, error) {
	rates := builder.NewRateTable()
	if err := rates.Set(contracts.CurrencyRick, contracts.CurrencyMorty, c.SwapRate); err != nil {
		return nil, err
	}
	return rates, nil
}
