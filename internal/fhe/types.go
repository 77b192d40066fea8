// Package fhe is the boundary to the homomorphic encryption capability set.
// The ledger consumes Engine, clients consume InputEncryptor and
// UserDecryptor. Coprocessor is a local stand-in for the external network
// used in development and tests.
package fhe

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"score-ledger/internal/domain"

	"golang.org/x/crypto/nacl/box"
)

// EncryptedType is stored in byte 30 of every handle.
type EncryptedType uint8

const (
	EBool EncryptedType = iota
	EUint8
	EUint16
	EUint32
	EUint64
)

const (
	handleTypeIndex    = 30
	handleVersionIndex = 31
	handleVersion      = 0
)

func (t EncryptedType) String() string {
	switch t {
	case EBool:
		return "ebool"
	case EUint8:
		return "euint8"
	case EUint16:
		return "euint16"
	case EUint32:
		return "euint32"
	case EUint64:
		return "euint64"
	default:
		return "unknown"
	}
}

func (t EncryptedType) BitSize() int {
	switch t {
	case EBool:
		return 1
	case EUint8:
		return 8
	case EUint16:
		return 16
	case EUint32:
		return 32
	case EUint64:
		return 64
	default:
		return 0
	}
}

// wrap truncates v to the width of t, matching unsigned overflow semantics.
func (t EncryptedType) wrap(v uint64) uint64 {
	bits := t.BitSize()
	if bits >= 64 {
		return v
	}
	return v & (1<<bits - 1)
}

func TypeOf(h domain.Handle) EncryptedType {
	return EncryptedType(h[handleTypeIndex])
}

type ExternalInput struct {
	Handle domain.Handle `json:"handle"`
	Proof  []byte        `json:"proof"`
}

type HandleContract struct {
	Handle          domain.Handle  `json:"handle"`
	ContractAddress domain.Address `json:"contract_address"`
}

type UserDecryptRequest struct {
	Handles    []HandleContract            `json:"handles"`
	Capability domain.DecryptionCapability `json:"capability"`
}

// SealedValue is a cleartext re-encrypted to the capability public key.
type SealedValue struct {
	Handle domain.Handle `json:"handle"`
	Sealed []byte        `json:"sealed"`
}

// Engine is what the ledger needs from the coprocessor.
type Engine interface {
	VerifyInput(ctx context.Context, in ExternalInput, owner, ledger domain.Address) (domain.Handle, error)
	TrivialEncrypt(ctx context.Context, value uint64, t EncryptedType) (domain.Handle, error)
	Add(ctx context.Context, a, b domain.Handle) (domain.Handle, error)
}

type InputEncryptor interface {
	EncryptUint32(ctx context.Context, ledger, user domain.Address, value uint32) (ExternalInput, error)
}

type UserDecryptor interface {
	UserDecrypt(ctx context.Context, req UserDecryptRequest) (map[domain.Handle]uint64, error)
}

// GenerateKeypair creates the ephemeral re-encryption key pair embedded in a
// decryption capability.
func GenerateKeypair() (publicKey, privateKey string, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate keypair: %w", err)
	}
	return hex.EncodeToString(pub[:]), hex.EncodeToString(priv[:]), nil
}

// Open recovers a cleartext sealed to the capability public key.
func Open(c *domain.DecryptionCapability, v SealedValue) (uint64, error) {
	pub, err := decodeKey(c.PublicKey)
	if err != nil {
		return 0, err
	}
	priv, err := decodeKey(c.PrivateKey)
	if err != nil {
		return 0, err
	}
	msg, ok := box.OpenAnonymous(nil, v.Sealed, pub, priv)
	if !ok {
		return 0, fmt.Errorf("handle %s: %w", v.Handle, errors.New("sealed value does not open with capability key"))
	}
	return decodeValue(msg)
}

func decodeKey(s string) (*[32]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("invalid capability key: %w", domain.ErrCapabilityInvalid)
	}
	var k [32]byte
	copy(k[:], b)
	return &k, nil
}
