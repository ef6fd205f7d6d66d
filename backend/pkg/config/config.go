package config

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"social-connections/backend/internal/constants"
	apperrors "social-connections/backend/pkg/errors"
)

// Ledger backends
const (
	LedgerMemory = "memory"
	LedgerNeo4j  = "neo4j"
)

// Config holds all application configuration
type Config struct {
	// App
	Port               string
	Env                string
	ReadTimeoutSeconds int

	// Meta-transactions
	TrustedForwarder string // Relay address allowed to act on behalf of others

	// Ledger
	Ledger        string
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// Events
	NATSURL            string // Empty disables NATS publishing
	EventSubjectPrefix string

	// Budgets
	GasLimit     uint64 // Zero fits a follow of MaxBatchSize targets
	MaxBatchSize int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := fromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadNeo4j reads configuration for tools that only talk to Neo4j
func LoadNeo4j() (*Config, error) {
	cfg := fromEnv()
	cfg.Ledger = LedgerNeo4j

	if err := cfg.validateLedger(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if err := cfg.validateBudgets(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func fromEnv() *Config {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		ReadTimeoutSeconds: getEnvInt("READ_TIMEOUT_SECONDS", 10),
		TrustedForwarder:   getEnv("TRUSTED_FORWARDER", ""),
		Ledger:             getEnv("LEDGER", LedgerMemory),
		Neo4jURI:           getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:          getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:      getEnv("NEO4J_PASSWORD", "password"),
		NATSURL:            getEnv("NATS_URL", ""),
		EventSubjectPrefix: getEnv("EVENT_SUBJECT_PREFIX", "socialconnections"),
		GasLimit:           getEnvUint64("GAS_LIMIT", 0),
		MaxBatchSize:       getEnvInt("MAX_BATCH_SIZE", constants.DefaultMaxBatchSize),
	}
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if err := c.validateForwarder(); err != nil {
		return err
	}
	if err := c.validateLedger(); err != nil {
		return err
	}
	return c.validateBudgets()
}

func (c *Config) validateForwarder() error {
	if c.TrustedForwarder == "" {
		return apperrors.NewConfigMissingRequired("TRUSTED_FORWARDER")
	}
	if !common.IsHexAddress(c.TrustedForwarder) {
		return apperrors.NewConfigValidationFailed("TRUSTED_FORWARDER", "not a hex address")
	}
	if c.Forwarder() == (common.Address{}) {
		return apperrors.NewConfigValidationFailed("TRUSTED_FORWARDER", "zero address")
	}
	return nil
}

func (c *Config) validateLedger() error {
	switch c.Ledger {
	case LedgerMemory:
	case LedgerNeo4j:
		if c.Neo4jURI == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_URI")
		}
		if c.Neo4jUser == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_USER")
		}
		if c.Neo4jPassword == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_PASSWORD")
		}
	default:
		return apperrors.NewConfigValidationFailed("LEDGER", fmt.Sprintf("unknown ledger %q", c.Ledger))
	}
	return nil
}

func (c *Config) validateBudgets() error {
	if c.MaxBatchSize <= 0 {
		return apperrors.NewConfigValidationFailed("MAX_BATCH_SIZE", "must be positive")
	}
	if need := constants.GasLimitFor(c.MaxBatchSize); c.GasLimit != 0 && c.GasLimit < need {
		return apperrors.NewConfigValidationFailed("GAS_LIMIT",
			fmt.Sprintf("%d cannot fit a follow of MAX_BATCH_SIZE targets (needs %d)", c.GasLimit, need))
	}
	return nil
}

// Forwarder returns the trusted forwarder as an address
func (c *Config) Forwarder() common.Address {
	return common.HexToAddress(c.TrustedForwarder)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		var result uint64
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
