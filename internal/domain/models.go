package domain

import (
	"slices"
	"time"
)

type Aggregate struct {
	Owner          Address
	EncryptedTotal Handle
	UpdatedAt      time.Time
}

type Submission struct {
	ID             uint64
	Owner          Address
	ResultHash     Hash
	ResultRef      string
	PublicScore    uint32
	EncryptedScore Handle
	SubmittedAt    time.Time
}

// PublicStats is the cleartext mirror updated in the same ledger
// transaction as the encrypted aggregate. GamesPlayed always equals the
// number of submissions recorded for the owner.
type PublicStats struct {
	Owner                Address   `json:"owner"`
	GamesPlayed          uint64    `json:"games_played"`
	TotalPublicScore     uint64    `json:"total_public_score"`
	MaxSinglePublicScore uint32    `json:"max_single_public_score"`
	LastPlayedAt         time.Time `json:"last_played_at"`
}

type BadgeClaim struct {
	BadgeID   uint64    `json:"badge_id"`
	Owner     Address   `json:"owner"`
	ClaimedAt time.Time `json:"claimed_at"`
}

type EventKind string

const (
	EventSubmission   EventKind = "submission"
	EventBadgeClaimed EventKind = "badge_claimed"
)

// Event is one entry of the append-only index log. Submission events carry
// the submission fields, badge events carry BadgeID.
type Event struct {
	Seq          uint64    `json:"seq"`
	Kind         EventKind `json:"kind"`
	Owner        Address   `json:"owner"`
	SubmissionID uint64    `json:"submission_id,omitempty"`
	ResultHash   Hash      `json:"result_hash"`
	ResultRef    string    `json:"result_ref,omitempty"`
	PublicScore  uint32    `json:"public_score,omitempty"`
	BadgeID      uint64    `json:"badge_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type Receipt struct {
	TxID         Hash      `json:"tx_id"`
	Kind         string    `json:"kind"`
	From         Address   `json:"from"`
	SubmissionID uint64    `json:"submission_id,omitempty"`
	BadgeID      uint64    `json:"badge_id,omitempty"`
	ConfirmedAt  time.Time `json:"confirmed_at"`
}

// DecryptionCapability is a signed, time-boxed grant letting UserAddress
// decrypt handles owned by ContractAddresses. PublicKey/PrivateKey are the
// ephemeral re-encryption key pair, hex encoded.
type DecryptionCapability struct {
	ContractAddresses []Address `json:"contract_addresses"`
	UserAddress       Address   `json:"user_address"`
	PublicKey         string    `json:"public_key"`
	PrivateKey        string    `json:"private_key"`
	Signature         string    `json:"signature"`
	StartTimestamp    int64     `json:"start_timestamp"`
	DurationDays      int       `json:"duration_days"`
}

func (c *DecryptionCapability) ExpiresAt() time.Time {
	return time.Unix(c.StartTimestamp, 0).Add(time.Duration(c.DurationDays) * 24 * time.Hour)
}

func (c *DecryptionCapability) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt())
}

// Covers reports whether the capability was issued for user over exactly the
// given ledger addresses.
func (c *DecryptionCapability) Covers(user Address, contracts []Address) bool {
	if c.UserAddress != user {
		return false
	}
	return slices.Equal(SortAddresses(c.ContractAddresses), SortAddresses(contracts))
}

// OperationContext is captured when an asynchronous operation starts and
// compared with the current one when it completes.
type OperationContext struct {
	ChainID       uint64
	SignerAddress Address
	LedgerAddress Address
}

// CapabilityRequest is what a signer is asked to authorize when a new
// decryption capability is created.
type CapabilityRequest struct {
	ChainID           uint64
	UserAddress       Address
	ContractAddresses []Address
	PublicKey         string
	StartTimestamp    int64
	DurationDays      int
}
