package config

import (
	"strings"
	"testing"

	"score-ledger/internal/constants"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresGatewaySecret(t *testing.T) {
	t.Setenv("GATEWAY_SECRET", "")

	_, err := Load(zerolog.Nop())
	require.ErrorContains(t, err, "GATEWAY_SECRET")
}

func TestLoadDefaults(t *testing.T) {
	require := require.New(t)
	t.Setenv("GATEWAY_SECRET", strings.Repeat("ab", 32))
	t.Setenv("CHAIN_ID", "")
	t.Setenv("LEDGER_ADDRESS", "")

	cfg, err := Load(zerolog.Nop())
	require.NoError(err)
	require.Equal(uint64(constants.DefaultChainID), cfg.ChainID)
	require.Equal(constants.DefaultLedgerAddr, cfg.LedgerAddress.String())
	require.Len(cfg.GatewaySecret, 32)
}

func TestLoadClient(t *testing.T) {
	require := require.New(t)
	t.Setenv("SIGNER_KEY", strings.Repeat("01", 32))
	t.Setenv("CHAIN_ID", "8009")
	t.Setenv("CAPABILITY_STORE", "memory")
	t.Setenv("CAPABILITY_DURATION_DAYS", "")

	cfg, err := LoadClient(zerolog.Nop())
	require.NoError(err)
	require.Equal(uint64(8009), cfg.ChainID)
	require.Equal("memory", cfg.CapabilityStore)
	require.Equal(constants.CapabilityDurationDays, cfg.CapabilityDurationDays)

	t.Setenv("CAPABILITY_STORE", "redis")
	_, err = LoadClient(zerolog.Nop())
	require.Error(err)
}
