package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"score-ledger/internal/constants"
	"score-ledger/internal/domain"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	DBPath        string
	ServerPort    string
	LogLevel      string
	ChainID       uint64
	LedgerAddress domain.Address
	GatewaySecret []byte
}

func Load(logger zerolog.Logger) (*Config, error) {
	loadDotEnv(logger)

	chainID, err := getUint("CHAIN_ID", constants.DefaultChainID)
	if err != nil {
		return nil, err
	}
	ledgerAddr, err := domain.ParseAddress(getEnv("LEDGER_ADDRESS", constants.DefaultLedgerAddr))
	if err != nil {
		return nil, fmt.Errorf("LEDGER_ADDRESS: %w", err)
	}

	secretHex := getEnv("GATEWAY_SECRET", "")
	if secretHex == "" {
		return nil, fmt.Errorf("GATEWAY_SECRET is required")
	}
	secret, err := hex.DecodeString(secretHex)
	if err != nil || len(secret) != 32 {
		return nil, fmt.Errorf("GATEWAY_SECRET must be 32 bytes of hex")
	}

	cfg := &Config{
		DBPath:        getEnv("DB_PATH", "ledger.db"),
		ServerPort:    getEnv("SERVER_PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		ChainID:       chainID,
		LedgerAddress: ledgerAddr,
		GatewaySecret: secret,
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Uint64("chain_id", cfg.ChainID).
		Str("ledger_address", cfg.LedgerAddress.String()).
		Msg("configuration loaded")

	return cfg, nil
}

type ClientConfig struct {
	LedgerURL              string
	ChainID                uint64
	LedgerAddress          domain.Address
	SignerKey              []byte
	CapabilityStore        string
	CapabilityDBPath       string
	CapabilityDurationDays int
	LogLevel               string
}

func LoadClient(logger zerolog.Logger) (*ClientConfig, error) {
	loadDotEnv(logger)

	chainID, err := getUint("CHAIN_ID", constants.DefaultChainID)
	if err != nil {
		return nil, err
	}
	ledgerAddr, err := domain.ParseAddress(getEnv("LEDGER_ADDRESS", constants.DefaultLedgerAddr))
	if err != nil {
		return nil, fmt.Errorf("LEDGER_ADDRESS: %w", err)
	}
	days, err := getUint("CAPABILITY_DURATION_DAYS", constants.CapabilityDurationDays)
	if err != nil {
		return nil, err
	}

	keyHex := getEnv("SIGNER_KEY", "")
	if keyHex == "" {
		return nil, fmt.Errorf("SIGNER_KEY is required")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("SIGNER_KEY must be a 32 byte hex seed")
	}

	cfg := &ClientConfig{
		LedgerURL:              getEnv("LEDGER_URL", "http://localhost:8080"),
		ChainID:                chainID,
		LedgerAddress:          ledgerAddr,
		SignerKey:              key,
		CapabilityStore:        getEnv("CAPABILITY_STORE", "sqlite"),
		CapabilityDBPath:       getEnv("CAPABILITY_DB_PATH", "capabilities.db"),
		CapabilityDurationDays: int(days),
		LogLevel:               getEnv("LOG_LEVEL", "warn"),
	}
	if cfg.CapabilityStore != "sqlite" && cfg.CapabilityStore != "memory" {
		return nil, fmt.Errorf("CAPABILITY_STORE must be sqlite or memory, got %q", cfg.CapabilityStore)
	}

	logger.Debug().
		Str("ledger_url", cfg.LedgerURL).
		Uint64("chain_id", cfg.ChainID).
		Str("ledger_address", cfg.LedgerAddress.String()).
		Str("capability_store", cfg.CapabilityStore).
		Int("capability_duration_days", cfg.CapabilityDurationDays).
		Msg("client configuration loaded")

	return cfg, nil
}

func loadDotEnv(logger zerolog.Logger) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getUint(key string, fallback uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an unsigned integer: %w", key, err)
	}
	return n, nil
}
