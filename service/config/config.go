package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"

	"github.com/brojonat/homepass/service/catalog"
	solanapkg "github.com/brojonat/homepass/service/solana"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Solana configuration. SolanaRPCURL is the endpoint picked from
	// SolanaRPCURLs for this process.
	SolanaRPCURLs        []string
	SolanaRPCURL         string
	ProgramID            solana.PublicKey
	RPCRequestsPerSecond float64
	ConfirmTimeout       time.Duration

	// Optional signing identity; empty means read-only.
	SignerKeypairPath string

	// Catalog configuration
	CatalogURL         string
	DefaultPropertyID  string
	ListingPropertyMap map[int64]string

	// Optional integrations; empty disables them.
	NATSURL     string
	DatabaseURL string

	// Refresh configuration
	RefreshInterval time.Duration

	// Snapshot worker configuration. WatchOwner is the wallet whose
	// balances the worker includes; nil reads pool state only.
	MetricsAddr string
	WatchOwner  *solana.PublicKey
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", cfg.LogLevel))
	}

	// Solana configuration
	cfg.SolanaRPCURLs = splitList(getEnvOrDefault("SOLANA_RPC_URL", solanapkg.DevnetEndpoint))
	if url, err := solanapkg.SelectRandomEndpoint(cfg.SolanaRPCURLs); err != nil {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL: %w", err))
	} else {
		cfg.SolanaRPCURL = url
	}

	programID := getEnvOrDefault("PROGRAM_ID", solanapkg.ProgramID.String())
	if pk, err := solana.PublicKeyFromBase58(programID); err != nil {
		errs = append(errs, fmt.Errorf("PROGRAM_ID: invalid public key %q: %w", programID, err))
	} else {
		cfg.ProgramID = pk
	}

	rps, err := parseFloat("RPC_REQUESTS_PER_SECOND", 10)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCRequestsPerSecond = rps
	}

	confirmTimeout, err := parseDuration("CONFIRM_TIMEOUT", "60s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmTimeout = confirmTimeout
	}

	cfg.SignerKeypairPath = os.Getenv("SIGNER_KEYPAIR_PATH")

	// Catalog configuration
	cfg.CatalogURL = os.Getenv("CATALOG_URL")
	if cfg.CatalogURL == "" {
		errs = append(errs, fmt.Errorf("CATALOG_URL is required"))
	}
	cfg.DefaultPropertyID = os.Getenv("DEFAULT_PROPERTY_ID")
	listings, err := catalog.ParseListingMap(os.Getenv("LISTING_PROPERTY_MAP"))
	if err != nil {
		errs = append(errs, fmt.Errorf("LISTING_PROPERTY_MAP: %w", err))
	} else {
		cfg.ListingPropertyMap = listings
	}

	// Optional integrations
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	// Refresh configuration
	interval, err := parseDuration("REFRESH_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RefreshInterval = interval
	}

	// Snapshot worker configuration
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	if owner := os.Getenv("WATCH_OWNER"); owner != "" {
		if pk, err := solana.PublicKeyFromBase58(owner); err != nil {
			errs = append(errs, fmt.Errorf("WATCH_OWNER: invalid public key %q: %w", owner, err))
		} else {
			cfg.WatchOwner = &pk
		}
	}

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.CatalogURL == "" {
		errs = append(errs, fmt.Errorf("CatalogURL is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.ProgramID.IsZero() {
		errs = append(errs, fmt.Errorf("ProgramID is required"))
	}

	if c.RefreshInterval < time.Second {
		errs = append(errs, fmt.Errorf("RefreshInterval must be at least 1 second"))
	}

	if c.ConfirmTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmTimeout must be positive"))
	}

	if c.RPCRequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("RPCRequestsPerSecond cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseFloat parses a float from an environment variable or uses a default.
func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
