package fhe

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"score-ledger/internal/domain"
	"score-ledger/internal/wallet"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	owner  = domain.Address("0x00000000000000000000000000000000000000aa")
	ledger = domain.Address("0x5c0e1ed9e5000000000000000000000000000001")
)

type memStore struct {
	mu   sync.Mutex
	data map[domain.Handle][]byte
	typ  map[domain.Handle]uint8
}

func newMemStore() *memStore {
	return &memStore{data: make(map[domain.Handle][]byte), typ: make(map[domain.Handle]uint8)}
}

func (s *memStore) Put(_ context.Context, h domain.Handle, typ uint8, sealed []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[h] = sealed
	s.typ[h] = typ
	return nil
}

func (s *memStore) Get(_ context.Context, h domain.Handle) (uint8, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sealed, ok := s.data[h]
	if !ok {
		return 0, nil, domain.ErrNotFound
	}
	return s.typ[h], sealed, nil
}

type staticACL map[domain.Address]bool

func (a staticACL) IsAllowed(_ context.Context, _ domain.Handle, account domain.Address) (bool, error) {
	return a[account], nil
}

func newTestCoprocessor(t *testing.T, acl ACL) *Coprocessor {
	t.Helper()
	c, err := NewCoprocessor(bytes.Repeat([]byte{9}, 32), newMemStore(), acl, wallet.VerifyCapability, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestNewCoprocessorRejectsShortSecret(t *testing.T) {
	_, err := NewCoprocessor([]byte("short"), newMemStore(), staticACL{}, wallet.VerifyCapability, zerolog.Nop())
	require.Error(t, err)
}

func TestInputProofBinding(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	c := newTestCoprocessor(t, staticACL{})

	in, err := c.EncryptInput(ctx, owner, ledger, 42)
	require.NoError(err)
	require.Equal(EUint32, TypeOf(in.Handle))

	h, err := c.VerifyInput(ctx, in, owner, ledger)
	require.NoError(err)
	require.Equal(in.Handle, h)

	other := domain.Address("0x00000000000000000000000000000000000000bb")
	_, err = c.VerifyInput(ctx, in, other, ledger)
	require.ErrorIs(err, domain.ErrProofInvalid)

	_, err = c.VerifyInput(ctx, in, owner, other)
	require.ErrorIs(err, domain.ErrProofInvalid)

	_, err = c.VerifyInput(ctx, ExternalInput{Handle: in.Handle}, owner, ledger)
	require.ErrorIs(err, domain.ErrProofInvalid)
}

func TestAddWrapsAtTypeWidth(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	c := newTestCoprocessor(t, staticACL{})

	a, err := c.TrivialEncrypt(ctx, 250, EUint8)
	require.NoError(err)
	b, err := c.TrivialEncrypt(ctx, 10, EUint8)
	require.NoError(err)

	sum, err := c.Add(ctx, a, b)
	require.NoError(err)
	typ, v, err := c.plaintext(ctx, sum)
	require.NoError(err)
	require.Equal(EUint8, typ)
	require.Equal(uint64(4), v)

	wide, err := c.TrivialEncrypt(ctx, 1<<40, EUint64)
	require.NoError(err)
	sum, err = c.Add(ctx, wide, a)
	require.NoError(err)
	typ, v, err = c.plaintext(ctx, sum)
	require.NoError(err)
	require.Equal(EUint64, typ)
	require.Equal(uint64(1<<40+250), v)

	_, err = c.Add(ctx, domain.Handle{}, a)
	require.ErrorIs(err, domain.ErrNotFound)
}

func TestUserDecrypt(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	w, err := wallet.NewLocal(bytes.Repeat([]byte{5}, 32), nil)
	require.NoError(err)
	c := newTestCoprocessor(t, staticACL{w.Address(): true, ledger: true})
	now := time.Unix(1_700_000_000, 0)
	c.SetClock(func() time.Time { return now })

	in, err := c.EncryptInput(ctx, w.Address(), ledger, 31)
	require.NoError(err)

	pub, priv, err := GenerateKeypair()
	require.NoError(err)
	req := domain.CapabilityRequest{
		UserAddress:       w.Address(),
		ContractAddresses: []domain.Address{ledger},
		PublicKey:         pub,
		StartTimestamp:    now.Unix(),
		DurationDays:      1,
	}
	sig, err := w.SignCapability(ctx, req)
	require.NoError(err)
	capability := domain.DecryptionCapability{
		ContractAddresses: req.ContractAddresses,
		UserAddress:       w.Address(),
		PublicKey:         pub,
		PrivateKey:        priv,
		Signature:         sig,
		StartTimestamp:    req.StartTimestamp,
		DurationDays:      req.DurationDays,
	}

	sealed, err := c.UserDecrypt(ctx, UserDecryptRequest{
		Handles:    []HandleContract{{Handle: in.Handle, ContractAddress: ledger}},
		Capability: capability,
	})
	require.NoError(err)
	require.Len(sealed, 1)
	v, err := Open(&capability, sealed[0])
	require.NoError(err)
	require.Equal(uint64(31), v)

	_, err = c.UserDecrypt(ctx, UserDecryptRequest{
		Handles:    []HandleContract{{Handle: in.Handle, ContractAddress: owner}},
		Capability: capability,
	})
	require.ErrorIs(err, domain.ErrCapabilityInvalid)

	now = now.Add(48 * time.Hour)
	_, err = c.UserDecrypt(ctx, UserDecryptRequest{
		Handles:    []HandleContract{{Handle: in.Handle, ContractAddress: ledger}},
		Capability: capability,
	})
	require.ErrorIs(err, domain.ErrCapabilityInvalid)
}
