package wallet

import (
	"bytes"
	"context"
	"testing"
	"time"

	"score-ledger/internal/domain"

	"github.com/stretchr/testify/require"
)

var ledgerAddr = domain.Address("0x5c0e1ed9e5000000000000000000000000000001")

func newTestWallet(t *testing.T, seed byte, confirm ConfirmFunc) *Local {
	t.Helper()
	w, err := NewLocal(bytes.Repeat([]byte{seed}, 32), confirm)
	require.NoError(t, err)
	return w
}

func signedCapability(t *testing.T, w *Local, start time.Time) *domain.DecryptionCapability {
	t.Helper()
	req := domain.CapabilityRequest{
		ChainID:           31337,
		UserAddress:       w.Address(),
		ContractAddresses: []domain.Address{ledgerAddr},
		PublicKey:         "aa",
		StartTimestamp:    start.Unix(),
		DurationDays:      10,
	}
	sig, err := w.SignCapability(context.Background(), req)
	require.NoError(t, err)
	return &domain.DecryptionCapability{
		ContractAddresses: req.ContractAddresses,
		UserAddress:       req.UserAddress,
		PublicKey:         req.PublicKey,
		PrivateKey:        "bb",
		Signature:         sig,
		StartTimestamp:    req.StartTimestamp,
		DurationDays:      req.DurationDays,
	}
}

func TestAddressIsStable(t *testing.T) {
	require := require.New(t)

	a := newTestWallet(t, 1, nil)
	b := newTestWallet(t, 1, nil)
	c := newTestWallet(t, 2, nil)
	require.Equal(a.Address(), b.Address())
	require.NotEqual(a.Address(), c.Address())

	_, err := domain.ParseAddress(a.Address().String())
	require.NoError(err)
}

func TestSignAndVerifyDigest(t *testing.T) {
	require := require.New(t)

	w := newTestWallet(t, 1, nil)
	tx := &domain.ClaimBadgeTx{From: w.Address(), PublicKey: w.PublicKey(), Nonce: "n1", BadgeID: 2}
	sig, err := w.SignDigest(context.Background(), tx.Digest())
	require.NoError(err)
	require.NoError(VerifyDigest(w.Address(), w.PublicKey(), sig, tx.Digest()))

	tampered := *tx
	tampered.BadgeID = 3
	require.ErrorIs(VerifyDigest(w.Address(), w.PublicKey(), sig, tampered.Digest()), domain.ErrInvalidSignature)

	other := newTestWallet(t, 2, nil)
	require.ErrorIs(VerifyDigest(other.Address(), w.PublicKey(), sig, tx.Digest()), domain.ErrInvalidSignature)
}

func TestVerifyCapability(t *testing.T) {
	require := require.New(t)

	w := newTestWallet(t, 1, nil)
	start := time.Unix(1_700_000_000, 0)
	c := signedCapability(t, w, start)

	require.NoError(VerifyCapability(c, start.Add(time.Hour)))
	require.ErrorIs(VerifyCapability(c, start.Add(11*24*time.Hour)), domain.ErrCapabilityInvalid)

	forged := *c
	forged.PublicKey = "cc"
	require.ErrorIs(VerifyCapability(&forged, start.Add(time.Hour)), domain.ErrCapabilityInvalid)

	stolen := *c
	stolen.UserAddress = newTestWallet(t, 2, nil).Address()
	require.ErrorIs(VerifyCapability(&stolen, start.Add(time.Hour)), domain.ErrCapabilityInvalid)
}

func TestSignCapabilityRejected(t *testing.T) {
	w := newTestWallet(t, 1, func(context.Context, domain.CapabilityRequest) (bool, error) {
		return false, nil
	})
	_, err := w.SignCapability(context.Background(), domain.CapabilityRequest{UserAddress: w.Address()})
	require.ErrorIs(t, err, domain.ErrCapabilitySigningRejected)
}
