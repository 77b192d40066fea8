package domain

import (
	"encoding/binary"
	"hash"

	"golang.org/x/crypto/blake2b"
)

const (
	submitDomain = "score-ledger/submit/v1"
	claimDomain  = "score-ledger/claim-badge/v1"
)

// SubmitTx carries an encrypted score to the ledger. The ledger only trusts
// From after checking it is derived from PublicKey and Signature covers
// Digest().
type SubmitTx struct {
	From           Address `json:"from"`
	PublicKey      []byte  `json:"public_key"`
	Nonce          string  `json:"nonce"`
	EncryptedScore Handle  `json:"encrypted_score"`
	InputProof     []byte  `json:"input_proof"`
	ResultHash     Hash    `json:"result_hash"`
	ResultRef      string  `json:"result_ref"`
	PublicScore    uint32  `json:"public_score"`
	Signature      []byte  `json:"signature"`
}

func (tx *SubmitTx) Digest() Hash {
	d := newDigest(submitDomain)
	d.str(string(tx.From))
	d.bytes(tx.PublicKey)
	d.str(tx.Nonce)
	d.bytes(tx.EncryptedScore[:])
	d.bytes(tx.InputProof)
	d.bytes(tx.ResultHash[:])
	d.str(tx.ResultRef)
	d.u64(uint64(tx.PublicScore))
	return d.sum()
}

type ClaimBadgeTx struct {
	From      Address `json:"from"`
	PublicKey []byte  `json:"public_key"`
	Nonce     string  `json:"nonce"`
	BadgeID   uint64  `json:"badge_id"`
	Signature []byte  `json:"signature"`
}

func (tx *ClaimBadgeTx) Digest() Hash {
	d := newDigest(claimDomain)
	d.str(string(tx.From))
	d.bytes(tx.PublicKey)
	d.str(tx.Nonce)
	d.u64(tx.BadgeID)
	return d.sum()
}

type digest struct {
	h hash.Hash
}

func newDigest(domain string) *digest {
	h, _ := blake2b.New256(nil)
	d := &digest{h: h}
	d.str(domain)
	return d
}

// every field is length prefixed so adjacent variable-length fields cannot collide
func (d *digest) bytes(b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	d.h.Write(n[:])
	d.h.Write(b)
}

func (d *digest) str(s string) {
	d.bytes([]byte(s))
}

func (d *digest) u64(v uint64) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], v)
	d.h.Write(n[:])
}

func (d *digest) sum() Hash {
	var out Hash
	copy(out[:], d.h.Sum(nil))
	return out
}
