package domain

import (
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

type Address string

const AddressLength = 20

func ParseAddress(s string) (Address, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	raw := strings.TrimPrefix(s, "0x")
	if len(raw) != AddressLength*2 {
		return "", fmt.Errorf("invalid address %q: expected %d hex characters", s, AddressLength*2)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid address %q: %w", s, err)
	}
	return Address("0x" + raw), nil
}

func AddressFromBytes(b []byte) Address {
	return Address("0x" + hex.EncodeToString(b))
}

func (a Address) String() string {
	return string(a)
}

func SortAddresses(addrs []Address) []Address {
	out := slices.Clone(addrs)
	slices.Sort(out)
	return slices.Compact(out)
}

// Handle references an encrypted value held by the coprocessor. The zero
// handle means "nothing to decrypt".
type Handle [32]byte

func (h Handle) IsZero() bool {
	return h == Handle{}
}

func (h Handle) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Handle) UnmarshalText(text []byte) error {
	return decodeFixed(h[:], string(text))
}

func ParseHandle(s string) (Handle, error) {
	var h Handle
	err := decodeFixed(h[:], s)
	return h, err
}

type Hash [32]byte

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	return decodeFixed(h[:], string(text))
}

func ParseHash(s string) (Hash, error) {
	var h Hash
	err := decodeFixed(h[:], s)
	return h, err
}

func decodeFixed(dst []byte, s string) error {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if raw == "" {
		clear(dst)
		return nil
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("invalid hex %q: %w", s, err)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("invalid length %d, expected %d bytes", len(b), len(dst))
	}
	copy(dst, b)
	return nil
}
