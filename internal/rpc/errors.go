package rpc

import (
	"context"
	"errors"
	"fmt"

	"score-ledger/internal/domain"

	"connectrpc.com/connect"
)

// ErrorHeader carries the name of the domain error behind a failed call.
const ErrorHeader = "Ledger-Error"

var domainErrors = []struct {
	name string
	err  error
	code connect.Code
}{
	{"not_ready", domain.ErrNotReady, connect.CodeUnavailable},
	{"no_ciphertext", domain.ErrNoCiphertext, connect.CodeFailedPrecondition},
	{"already_in_progress", domain.ErrAlreadyInProgress, connect.CodeAborted},
	{"proof_invalid", domain.ErrProofInvalid, connect.CodeInvalidArgument},
	{"unknown_badge", domain.ErrUnknownBadge, connect.CodeNotFound},
	{"already_claimed", domain.ErrAlreadyClaimed, connect.CodeAlreadyExists},
	{"conditions_not_met", domain.ErrConditionsNotMet, connect.CodeFailedPrecondition},
	{"capability_signing_rejected", domain.ErrCapabilitySigningRejected, connect.CodePermissionDenied},
	{"capability_invalid", domain.ErrCapabilityInvalid, connect.CodeUnauthenticated},
	{"invalid_signature", domain.ErrInvalidSignature, connect.CodeUnauthenticated},
	{"duplicate_transaction", domain.ErrDuplicateTransaction, connect.CodeAlreadyExists},
	{"not_allowed", domain.ErrNotAllowed, connect.CodePermissionDenied},
	{"not_found", domain.ErrNotFound, connect.CodeNotFound},
}

// ToConnectError converts a handler error to a connect error, tagging known
// domain errors so the client can restore them.
func ToConnectError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return connect.NewError(connect.CodeCanceled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	for _, e := range domainErrors {
		if errors.Is(err, e.err) {
			cerr := connect.NewError(e.code, err)
			cerr.Meta().Set(ErrorHeader, e.name)
			return cerr
		}
	}
	return connect.NewError(connect.CodeInternal, err)
}

// FromConnectError restores the domain error of a failed call so callers can
// match it with errors.Is.
func FromConnectError(err error) error {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return err
	}
	name := cerr.Meta().Get(ErrorHeader)
	for _, e := range domainErrors {
		if e.name == name {
			return fmt.Errorf("%w: %s", e.err, cerr.Message())
		}
	}
	return err
}
