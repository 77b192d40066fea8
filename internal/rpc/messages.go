package rpc

import (
	"score-ledger/internal/domain"
	"score-ledger/internal/fhe"
)

type TxResponse struct {
	TxID domain.Hash `json:"tx_id"`
}

type ReceiptRequest struct {
	TxID domain.Hash `json:"tx_id"`
}

type AddressRequest struct {
	Address domain.Address `json:"address"`
}

type SubmissionRequest struct {
	ID uint64 `json:"id"`
}

type HandleResponse struct {
	Handle domain.Handle `json:"handle"`
}

type IsClaimedRequest struct {
	BadgeID uint64         `json:"badge_id"`
	Address domain.Address `json:"address"`
}

type IsClaimedResponse struct {
	Claimed bool `json:"claimed"`
}

type ClaimsResponse struct {
	Claims []domain.BadgeClaim `json:"claims"`
}

type EventsRequest struct {
	AfterSeq uint64 `json:"after_seq"`
	Limit    int    `json:"limit"`
}

type EventsResponse struct {
	Events []domain.Event `json:"events"`
}

type LedgerInfoResponse struct {
	ChainID uint64         `json:"chain_id"`
	Address domain.Address `json:"address"`
}

type EncryptInputRequest struct {
	Ledger domain.Address `json:"ledger"`
	User   domain.Address `json:"user"`
	Value  uint32         `json:"value"`
}

type UserDecryptResponse struct {
	Values []fhe.SealedValue `json:"values"`
}
