package fhe

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"time"

	"score-ledger/internal/domain"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

type CiphertextStore interface {
	Put(ctx context.Context, handle domain.Handle, typ uint8, sealed []byte) error
	Get(ctx context.Context, handle domain.Handle) (uint8, []byte, error)
}

type ACL interface {
	IsAllowed(ctx context.Context, handle domain.Handle, account domain.Address) (bool, error)
}

type CapabilityVerifier func(c *domain.DecryptionCapability, now time.Time) error

// Coprocessor keeps values sealed at rest under a gateway key and performs
// arithmetic by opening, computing and resealing. Input proofs are keyed
// MACs binding a handle to (owner, ledger).
type Coprocessor struct {
	store    CiphertextStore
	acl      ACL
	verify   CapabilityVerifier
	sealKey  [32]byte
	proofKey []byte
	clock    func() time.Time
	logger   zerolog.Logger
}

func NewCoprocessor(secret []byte, store CiphertextStore, acl ACL, verify CapabilityVerifier, logger zerolog.Logger) (*Coprocessor, error) {
	if len(secret) != 32 {
		return nil, fmt.Errorf("gateway secret must be 32 bytes, got %d", len(secret))
	}
	c := &Coprocessor{
		store:    store,
		acl:      acl,
		verify:   verify,
		proofKey: derive(secret, "input-proof"),
		clock:    time.Now,
		logger:   logger,
	}
	copy(c.sealKey[:], derive(secret, "ciphertext-seal"))
	return c, nil
}

// SetClock replaces the time source used for capability expiry.
func (c *Coprocessor) SetClock(clock func() time.Time) {
	c.clock = clock
}

// EncryptInput encrypts a client value and returns the handle with a proof
// that is only valid for the given owner on the given ledger.
func (c *Coprocessor) EncryptInput(ctx context.Context, owner, ledger domain.Address, value uint32) (ExternalInput, error) {
	h, err := c.put(ctx, uint64(value), EUint32, "input")
	if err != nil {
		return ExternalInput{}, err
	}
	c.logger.Debug().Str("handle", h.String()).Str("owner", owner.String()).Msg("input encrypted")
	return ExternalInput{Handle: h, Proof: c.proof(h, owner, ledger)}, nil
}

func (c *Coprocessor) VerifyInput(ctx context.Context, in ExternalInput, owner, ledger domain.Address) (domain.Handle, error) {
	expected := c.proof(in.Handle, owner, ledger)
	if subtle.ConstantTimeCompare(in.Proof, expected) != 1 {
		return domain.Handle{}, domain.ErrProofInvalid
	}
	if _, _, err := c.store.Get(ctx, in.Handle); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Handle{}, domain.ErrProofInvalid
		}
		return domain.Handle{}, err
	}
	return in.Handle, nil
}

func (c *Coprocessor) TrivialEncrypt(ctx context.Context, value uint64, t EncryptedType) (domain.Handle, error) {
	return c.put(ctx, t.wrap(value), t, "trivial")
}

// Add returns a handle to a+b typed as the wider operand.
func (c *Coprocessor) Add(ctx context.Context, a, b domain.Handle) (domain.Handle, error) {
	ta, va, err := c.plaintext(ctx, a)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("lhs %s: %w", a, err)
	}
	tb, vb, err := c.plaintext(ctx, b)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("rhs %s: %w", b, err)
	}
	t := max(ta, tb)
	return c.put(ctx, t.wrap(va+vb), t, "add", a[:], b[:])
}

// UserDecrypt checks the capability and the ACL for every handle, then
// returns each value sealed to the capability public key.
func (c *Coprocessor) UserDecrypt(ctx context.Context, req UserDecryptRequest) ([]SealedValue, error) {
	capability := req.Capability
	if err := c.verify(&capability, c.clock()); err != nil {
		return nil, err
	}
	pub, err := decodeKey(capability.PublicKey)
	if err != nil {
		return nil, err
	}

	out := make([]SealedValue, 0, len(req.Handles))
	for _, hc := range req.Handles {
		if !slices.Contains(capability.ContractAddresses, hc.ContractAddress) {
			return nil, fmt.Errorf("contract %s not covered by capability: %w", hc.ContractAddress, domain.ErrCapabilityInvalid)
		}
		for _, acct := range []domain.Address{capability.UserAddress, hc.ContractAddress} {
			ok, err := c.acl.IsAllowed(ctx, hc.Handle, acct)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%s on %s: %w", acct, hc.Handle, domain.ErrNotAllowed)
			}
		}
		_, v, err := c.plaintext(ctx, hc.Handle)
		if err != nil {
			return nil, fmt.Errorf("handle %s: %w", hc.Handle, err)
		}
		sealed, err := box.SealAnonymous(nil, encodeValue(v), pub, rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to seal value: %w", err)
		}
		out = append(out, SealedValue{Handle: hc.Handle, Sealed: sealed})
	}

	c.logger.Info().
		Str("user", capability.UserAddress.String()).
		Int("handles", len(out)).
		Msg("user decryption served")
	return out, nil
}

func (c *Coprocessor) put(ctx context.Context, v uint64, t EncryptedType, op string, inputs ...[]byte) (domain.Handle, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return domain.Handle{}, fmt.Errorf("failed to read randomness: %w", err)
	}
	h, _ := blake2b.New256(nil)
	h.Write([]byte(op))
	for _, in := range inputs {
		h.Write(in)
	}
	h.Write(salt[:])

	var handle domain.Handle
	copy(handle[:], h.Sum(nil))
	handle[handleTypeIndex] = byte(t)
	handle[handleVersionIndex] = handleVersion

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return domain.Handle{}, fmt.Errorf("failed to read randomness: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], encodeValue(v), &nonce, &c.sealKey)
	if err := c.store.Put(ctx, handle, uint8(t), sealed); err != nil {
		return domain.Handle{}, fmt.Errorf("failed to store ciphertext: %w", err)
	}
	return handle, nil
}

func (c *Coprocessor) plaintext(ctx context.Context, handle domain.Handle) (EncryptedType, uint64, error) {
	typ, sealed, err := c.store.Get(ctx, handle)
	if err != nil {
		return 0, 0, err
	}
	if len(sealed) < 24 {
		return 0, 0, errors.New("ciphertext truncated")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	msg, ok := secretbox.Open(nil, sealed[24:], &nonce, &c.sealKey)
	if !ok {
		return 0, 0, errors.New("ciphertext does not open with gateway key")
	}
	v, err := decodeValue(msg)
	return EncryptedType(typ), v, err
}

func (c *Coprocessor) proof(h domain.Handle, owner, ledger domain.Address) []byte {
	mac, _ := blake2b.New256(c.proofKey)
	mac.Write(h[:])
	mac.Write([]byte(owner))
	mac.Write([]byte(ledger))
	return mac.Sum(nil)
}

func derive(secret []byte, label string) []byte {
	mac, _ := blake2b.New256(secret)
	mac.Write([]byte(label))
	return mac.Sum(nil)
}

func encodeValue(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeValue(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid plaintext length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
