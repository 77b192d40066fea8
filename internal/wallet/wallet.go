// Package wallet holds the local account key: it derives the account
// address, signs ledger transactions and signs decryption capabilities.
package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"score-ledger/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/blake2b"
)

// ConfirmFunc asks the account holder to approve a capability. Returning
// false rejects the signature request.
type ConfirmFunc func(ctx context.Context, req domain.CapabilityRequest) (bool, error)

type Local struct {
	key     ed25519.PrivateKey
	address domain.Address
	confirm ConfirmFunc
}

func NewLocal(seed []byte, confirm ConfirmFunc) (*Local, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signer seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	return &Local{
		key:     key,
		address: DeriveAddress(key.Public().(ed25519.PublicKey)),
		confirm: confirm,
	}, nil
}

func (w *Local) Address() domain.Address {
	return w.address
}

func (w *Local) PublicKey() ed25519.PublicKey {
	return w.key.Public().(ed25519.PublicKey)
}

// SignDigest signs a transaction digest. The transaction must already carry
// PublicKey, which is part of the digest.
func (w *Local) SignDigest(_ context.Context, digest domain.Hash) ([]byte, error) {
	return ed25519.Sign(w.key, digest[:]), nil
}

func (w *Local) SignCapability(ctx context.Context, req domain.CapabilityRequest) (string, error) {
	if req.UserAddress != w.address {
		return "", fmt.Errorf("capability requested for %s, signer is %s", req.UserAddress, w.address)
	}
	if w.confirm != nil {
		ok, err := w.confirm(ctx, req)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", domain.ErrCapabilitySigningRejected
		}
	}

	start := time.Unix(req.StartTimestamp, 0)
	claims := capabilityClaims{
		PublicKey:    req.PublicKey,
		Contracts:    addressStrings(req.ContractAddresses),
		DurationDays: req.DurationDays,
		ChainID:      req.ChainID,
		SignerKey:    hex.EncodeToString(w.PublicKey()),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(req.UserAddress),
			IssuedAt:  jwt.NewNumericDate(start),
			NotBefore: jwt.NewNumericDate(start),
			ExpiresAt: jwt.NewNumericDate(start.Add(time.Duration(req.DurationDays) * 24 * time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(w.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign capability: %w", err)
	}
	return token, nil
}

type capabilityClaims struct {
	PublicKey    string   `json:"pk"`
	Contracts    []string `json:"contracts"`
	DurationDays int      `json:"days"`
	ChainID      uint64   `json:"chain_id"`
	SignerKey    string   `json:"spk"`
	jwt.RegisteredClaims
}

// DeriveAddress is the first 20 bytes of blake2b over the public key.
func DeriveAddress(pub ed25519.PublicKey) domain.Address {
	h, _ := blake2b.New(domain.AddressLength, nil)
	h.Write(pub)
	return domain.AddressFromBytes(h.Sum(nil))
}

// VerifyDigest authenticates a signed ledger transaction.
func VerifyDigest(from domain.Address, pub, sig []byte, digest domain.Hash) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("public key length %d: %w", len(pub), domain.ErrInvalidSignature)
	}
	if DeriveAddress(pub) != from {
		return fmt.Errorf("sender %s does not match public key: %w", from, domain.ErrInvalidSignature)
	}
	if !ed25519.Verify(pub, digest[:], sig) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// VerifyCapability checks the capability signature, its validity window at
// now, and that every field matches what the user signed.
func VerifyCapability(c *domain.DecryptionCapability, now time.Time) error {
	var claims capabilityClaims
	_, err := jwt.ParseWithClaims(c.Signature, &claims, func(t *jwt.Token) (any, error) {
		cl := t.Claims.(*capabilityClaims)
		pub, err := hex.DecodeString(cl.SignerKey)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid signer key")
		}
		if DeriveAddress(pub) != c.UserAddress {
			return nil, fmt.Errorf("signer key does not belong to %s", c.UserAddress)
		}
		return ed25519.PublicKey(pub), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(time.Minute),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(string(c.UserAddress)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCapabilityInvalid, err)
	}

	switch {
	case claims.PublicKey != c.PublicKey:
		return fmt.Errorf("%w: public key mismatch", domain.ErrCapabilityInvalid)
	case claims.DurationDays != c.DurationDays:
		return fmt.Errorf("%w: duration mismatch", domain.ErrCapabilityInvalid)
	case claims.IssuedAt == nil || claims.IssuedAt.Unix() != c.StartTimestamp:
		return fmt.Errorf("%w: start timestamp mismatch", domain.ErrCapabilityInvalid)
	case !slices.Equal(claims.Contracts, addressStrings(c.ContractAddresses)):
		return fmt.Errorf("%w: contract set mismatch", domain.ErrCapabilityInvalid)
	}
	return nil
}

func addressStrings(addrs []domain.Address) []string {
	sorted := domain.SortAddresses(addrs)
	out := make([]string, len(sorted))
	for i, a := range sorted {
		out[i] = string(a)
	}
	return out
}
