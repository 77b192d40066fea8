package coordinator

import "score-ledger/internal/domain"

// Kind is an operation class. At most one operation of each kind runs at a
// time per coordinator.
type Kind int

const (
	KindRefresh Kind = iota
	KindDecrypt
	KindSubmit
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindRefresh:
		return "refresh"
	case KindDecrypt:
		return "decrypt"
	case KindSubmit:
		return "submit"
	default:
		return "unknown"
	}
}

// Phase is the step an operation kind is currently in. Only the holder of
// the kind's lock moves it away from PhaseIdle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseSigning
	PhaseRequesting
	PhasePreparing
	PhaseEncrypting
	PhaseSubmittingTx
	PhaseConfirming
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetching:
		return "fetching"
	case PhaseSigning:
		return "signing"
	case PhaseRequesting:
		return "requesting"
	case PhasePreparing:
		return "preparing"
	case PhaseEncrypting:
		return "encrypting"
	case PhaseSubmittingTx:
		return "submitting-tx"
	case PhaseConfirming:
		return "confirming"
	default:
		return "unknown"
	}
}

// Outcome is the terminal, non-error result of an operation.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	// OutcomeStale: the operating context changed while the operation was
	// in flight and its result was dropped.
	OutcomeStale
	// OutcomeThrottled: the same ledger and signer were refreshed within
	// the throttle window, nothing was read.
	OutcomeThrottled
	// OutcomeInFlight: a refresh was already running.
	OutcomeInFlight
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeStale:
		return "stale"
	case OutcomeThrottled:
		return "throttled"
	case OutcomeInFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// opLock is a single-slot lock for one operation kind.
type opLock chan struct{}

func newOpLock() opLock {
	return make(opLock, 1)
}

func (l opLock) tryAcquire() bool {
	select {
	case l <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l opLock) release() {
	<-l
}

func (l opLock) held() bool {
	return len(l) == 1
}

// Snapshot is a point-in-time copy of the coordinator state.
type Snapshot struct {
	Context   domain.OperationContext
	Handle    domain.Handle
	Cleartext *uint64
	Refresh   Phase
	Decrypt   Phase
	Submit    Phase
}

type DecryptOptions struct {
	// ForceSign asks the signer for a new capability even when a cached one
	// is still valid.
	ForceSign bool
}

type DecryptResult struct {
	Outcome Outcome
	Value   uint64
	// WaitTimedOut is set when an in-flight refresh did not finish within
	// the wait bound and the decrypt went ahead anyway.
	WaitTimedOut bool
}

type SubmitRequest struct {
	Score       uint32
	PublicScore uint32
	ResultHash  domain.Hash
	ResultRef   string
}

type SubmitResult struct {
	Outcome      Outcome
	TxID         domain.Hash
	SubmissionID uint64
}
