package domain

import "errors"

var (
	ErrNotReady                  = errors.New("not ready: signer, ledger address or encryption capability unavailable")
	ErrNoCiphertext              = errors.New("no ciphertext to decrypt")
	ErrAlreadyInProgress         = errors.New("operation already in progress")
	ErrProofInvalid              = errors.New("input proof invalid")
	ErrUnknownBadge              = errors.New("unknown badge")
	ErrAlreadyClaimed            = errors.New("badge already claimed")
	ErrConditionsNotMet          = errors.New("badge conditions not met")
	ErrCapabilitySigningRejected = errors.New("capability signing rejected")
	ErrCapabilityInvalid         = errors.New("decryption capability invalid")
	ErrInvalidSignature          = errors.New("invalid transaction signature")
	ErrDuplicateTransaction      = errors.New("duplicate transaction")
	ErrNotAllowed                = errors.New("account not allowed to decrypt handle")
	ErrNotFound                  = errors.New("not found")
)
