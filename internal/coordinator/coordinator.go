// Package coordinator serializes the client's refresh, decrypt and submit
// operations against one ledger and one signer, and drops results that
// complete after the operating context has changed.
package coordinator

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"score-ledger/internal/capability"
	"score-ledger/internal/constants"
	"score-ledger/internal/domain"
	"score-ledger/internal/fhe"
	"score-ledger/internal/metrics"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Ledger is the part of the ledger surface the coordinator drives.
type Ledger interface {
	TotalOf(ctx context.Context, owner domain.Address) (domain.Handle, error)
	// Submit sends a signed transaction and returns its id once accepted
	// for processing.
	Submit(ctx context.Context, tx *domain.SubmitTx) (domain.Hash, error)
	// WaitReceipt blocks until the transaction is confirmed.
	WaitReceipt(ctx context.Context, txID domain.Hash) (*domain.Receipt, error)
}

type Signer interface {
	capability.Signer
	PublicKey() ed25519.PublicKey
	SignDigest(ctx context.Context, digest domain.Hash) ([]byte, error)
}

type Deps struct {
	Ledger       Ledger
	Encryptor    fhe.InputEncryptor
	Decryptor    fhe.UserDecryptor
	Capabilities *capability.Cache
	Store        capability.Store
}

type Coordinator struct {
	deps           Deps
	logger         zerolog.Logger
	clock          func() time.Time
	throttleWindow time.Duration
	refreshWait    time.Duration

	mu          sync.Mutex
	signer      Signer
	current     domain.OperationContext
	handle      domain.Handle
	cleartext   *uint64
	locks       [numKinds]opLock
	phases      [numKinds]Phase
	refreshDone chan struct{}
	// applied refreshes keyed by ledger and signer
	lastRefresh map[string]time.Time

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       errgroup.Group
}

// New creates a coordinator for one session. signer may be nil until an
// account is connected with SetSigner.
func New(chainID uint64, ledgerAddress domain.Address, signer Signer, deps Deps, logger zerolog.Logger) *Coordinator {
	c := &Coordinator{
		deps:           deps,
		logger:         logger.With().Str("component", "coordinator").Logger(),
		clock:          time.Now,
		throttleWindow: constants.RefreshThrottleWindow,
		refreshWait:    constants.RefreshWaitTimeout,
		signer:         signer,
		current:        domain.OperationContext{ChainID: chainID, LedgerAddress: ledgerAddress},
		lastRefresh:    make(map[string]time.Time),
	}
	if signer != nil {
		c.current.SignerAddress = signer.Address()
	}
	for k := range c.locks {
		c.locks[k] = newOpLock()
	}
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
	return c
}

func (c *Coordinator) SetClock(clock func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

// Refresh reads the signer's encrypted aggregate handle. Once a read has
// been applied, further refreshes of the same ledger and signer inside the
// throttle window are skipped.
func (c *Coordinator) Refresh(ctx context.Context) (Outcome, error) {
	return c.refresh(ctx, false)
}

func (c *Coordinator) refresh(ctx context.Context, force bool) (outcome Outcome, err error) {
	defer func() { c.record(KindRefresh, outcome, err) }()

	c.mu.Lock()
	if c.signer == nil || c.current.LedgerAddress == "" || c.deps.Ledger == nil {
		c.mu.Unlock()
		return OutcomeApplied, domain.ErrNotReady
	}
	if !c.locks[KindRefresh].tryAcquire() {
		c.mu.Unlock()
		c.logger.Debug().Msg("refresh already in flight")
		return OutcomeInFlight, nil
	}
	captured := c.current
	key := throttleKey(captured)
	now := c.clock()
	if last, ok := c.lastRefresh[key]; ok && !force && now.Sub(last) < c.throttleWindow {
		c.locks[KindRefresh].release()
		c.mu.Unlock()
		c.logger.Debug().Str("key", key).Dur("since_last", now.Sub(last)).Msg("refresh throttled")
		return OutcomeThrottled, nil
	}
	c.phases[KindRefresh] = PhaseFetching
	done := make(chan struct{})
	c.refreshDone = done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.phases[KindRefresh] = PhaseIdle
		c.refreshDone = nil
		c.locks[KindRefresh].release()
		c.mu.Unlock()
		close(done)
	}()

	handle, err := c.deps.Ledger.TotalOf(ctx, captured.SignerAddress)
	if err != nil {
		c.logger.Error().Err(err).Str("owner", captured.SignerAddress.String()).Msg("failed to read aggregate handle")
		return OutcomeApplied, fmt.Errorf("failed to read aggregate: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != captured {
		c.logStale(KindRefresh, captured)
		return OutcomeStale, nil
	}
	c.lastRefresh[key] = now
	c.handle = handle
	c.cleartext = nil
	c.logger.Info().
		Str("owner", captured.SignerAddress.String()).
		Str("handle", handle.String()).
		Bool("empty", handle.IsZero()).
		Msg("aggregate handle refreshed")
	return OutcomeApplied, nil
}

// Decrypt reveals the current aggregate handle. It first waits, within a
// bound, for an in-flight refresh to finish so that it decrypts the newest
// handle.
func (c *Coordinator) Decrypt(ctx context.Context, opts DecryptOptions) (res DecryptResult, err error) {
	defer func() { c.record(KindDecrypt, res.Outcome, err) }()

	res.WaitTimedOut, err = c.waitForRefresh(ctx)
	if err != nil {
		return res, err
	}

	c.mu.Lock()
	if !c.locks[KindDecrypt].tryAcquire() {
		c.mu.Unlock()
		return res, domain.ErrAlreadyInProgress
	}
	captured := c.current
	handle := c.handle
	signer := c.signer
	c.mu.Unlock()
	defer c.finish(KindDecrypt)

	if handle.IsZero() {
		return res, domain.ErrNoCiphertext
	}
	if signer == nil || c.deps.Decryptor == nil || c.deps.Capabilities == nil || c.deps.Store == nil {
		return res, domain.ErrNotReady
	}

	c.setPhase(KindDecrypt, PhaseSigning)
	grant, err := c.deps.Capabilities.LoadOrSign(ctx, signer, []domain.Address{captured.LedgerAddress}, c.deps.Store, capability.Options{
		Force:   opts.ForceSign,
		ChainID: captured.ChainID,
	})
	if err != nil {
		return res, err
	}
	if c.isStale(captured) {
		c.logStale(KindDecrypt, captured)
		res.Outcome = OutcomeStale
		return res, nil
	}

	c.setPhase(KindDecrypt, PhaseRequesting)
	values, err := c.deps.Decryptor.UserDecrypt(ctx, fhe.UserDecryptRequest{
		Handles:    []fhe.HandleContract{{Handle: handle, ContractAddress: captured.LedgerAddress}},
		Capability: *grant,
	})
	if err != nil {
		return res, fmt.Errorf("failed to decrypt aggregate: %w", err)
	}
	value, ok := values[handle]
	if !ok {
		return res, fmt.Errorf("decryption result is missing handle %s", handle)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != captured || c.handle != handle {
		c.logStale(KindDecrypt, captured)
		res.Outcome = OutcomeStale
		return res, nil
	}
	c.cleartext = &value
	res.Value = value
	res.Outcome = OutcomeApplied
	c.logger.Info().Str("owner", captured.SignerAddress.String()).Str("handle", handle.String()).Msg("aggregate revealed")
	return res, nil
}

func (c *Coordinator) waitForRefresh(ctx context.Context) (bool, error) {
	c.mu.Lock()
	done := c.refreshDone
	c.mu.Unlock()
	if done == nil {
		return false, nil
	}

	c.logger.Debug().Msg("waiting for in-flight refresh")
	timer := time.NewTimer(c.refreshWait)
	defer timer.Stop()
	select {
	case <-done:
		return false, nil
	case <-timer.C:
		c.logger.Warn().Dur("waited", c.refreshWait).Msg("refresh still in flight, decrypting anyway")
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Submit encrypts score, sends it to the ledger with the public fields and
// waits for confirmation. A refresh is started in the background once the
// transaction is confirmed.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (res SubmitResult, err error) {
	defer func() { c.record(KindSubmit, res.Outcome, err) }()

	c.mu.Lock()
	if c.locks[KindRefresh].held() || !c.locks[KindSubmit].tryAcquire() {
		c.mu.Unlock()
		return res, domain.ErrAlreadyInProgress
	}
	c.phases[KindSubmit] = PhasePreparing
	captured := c.current
	signer := c.signer
	c.mu.Unlock()
	defer c.finish(KindSubmit)

	if signer == nil || captured.LedgerAddress == "" || c.deps.Encryptor == nil || c.deps.Ledger == nil {
		return res, domain.ErrNotReady
	}

	c.setPhase(KindSubmit, PhaseEncrypting)
	input, err := c.deps.Encryptor.EncryptUint32(ctx, captured.LedgerAddress, captured.SignerAddress, req.Score)
	if err != nil {
		return res, fmt.Errorf("failed to encrypt score: %w", err)
	}
	if c.isStale(captured) {
		c.logStale(KindSubmit, captured)
		res.Outcome = OutcomeStale
		return res, nil
	}

	c.setPhase(KindSubmit, PhaseSubmittingTx)
	nonce, err := gonanoid.New()
	if err != nil {
		return res, fmt.Errorf("failed to generate nonce: %w", err)
	}
	tx := &domain.SubmitTx{
		From:           captured.SignerAddress,
		PublicKey:      signer.PublicKey(),
		Nonce:          nonce,
		EncryptedScore: input.Handle,
		InputProof:     input.Proof,
		ResultHash:     req.ResultHash,
		ResultRef:      req.ResultRef,
		PublicScore:    req.PublicScore,
	}
	if tx.Signature, err = signer.SignDigest(ctx, tx.Digest()); err != nil {
		return res, fmt.Errorf("failed to sign submission: %w", err)
	}
	txID, err := c.deps.Ledger.Submit(ctx, tx)
	if err != nil {
		return res, err
	}
	res.TxID = txID

	c.setPhase(KindSubmit, PhaseConfirming)
	receipt, err := c.deps.Ledger.WaitReceipt(ctx, txID)
	if err != nil {
		return res, fmt.Errorf("failed to confirm submission %s: %w", txID, err)
	}
	res.SubmissionID = receipt.SubmissionID
	res.Outcome = OutcomeApplied

	c.logger.Info().
		Str("tx_id", txID.String()).
		Uint64("submission_id", receipt.SubmissionID).
		Uint32("public_score", req.PublicScore).
		Msg("submission confirmed")

	c.bg.Go(func() error {
		if _, err := c.refresh(c.bgCtx, true); err != nil {
			c.logger.Warn().Err(err).Msg("refresh after submission failed")
		}
		return nil
	})
	return res, nil
}

// SetSigner switches the connected account. Any handle or cleartext of the
// previous account is dropped.
func (c *Coordinator) SetSigner(signer Signer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signer = signer
	next := c.current
	next.SignerAddress = ""
	if signer != nil {
		next.SignerAddress = signer.Address()
	}
	c.switchTo(next)
}

func (c *Coordinator) SetChain(chainID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.current
	next.ChainID = chainID
	c.switchTo(next)
}

func (c *Coordinator) SetLedger(address domain.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.current
	next.LedgerAddress = address
	c.switchTo(next)
}

func (c *Coordinator) switchTo(next domain.OperationContext) {
	if next == c.current {
		return
	}
	c.logger.Info().
		Uint64("chain_id", next.ChainID).
		Str("signer", next.SignerAddress.String()).
		Str("ledger", next.LedgerAddress.String()).
		Msg("operation context changed")
	c.current = next
	c.handle = domain.Handle{}
	c.cleartext = nil
	// a cleared handle is never throttled
	delete(c.lastRefresh, throttleKey(next))
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Context: c.current,
		Handle:  c.handle,
		Refresh: c.phases[KindRefresh],
		Decrypt: c.phases[KindDecrypt],
		Submit:  c.phases[KindSubmit],
	}
	if c.cleartext != nil {
		v := *c.cleartext
		s.Cleartext = &v
	}
	return s
}

// Close waits for background refreshes to finish.
func (c *Coordinator) Close() error {
	err := c.bg.Wait()
	c.bgCancel()
	return err
}

func (c *Coordinator) setPhase(k Kind, p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phases[k] = p
}

func (c *Coordinator) finish(k Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phases[k] = PhaseIdle
	c.locks[k].release()
}

func (c *Coordinator) isStale(captured domain.OperationContext) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != captured
}

func (c *Coordinator) logStale(k Kind, captured domain.OperationContext) {
	c.logger.Warn().
		Str("operation", k.String()).
		Str("signer", captured.SignerAddress.String()).
		Str("ledger", captured.LedgerAddress.String()).
		Msg("context changed, result ignored")
}

func (c *Coordinator) record(k Kind, outcome Outcome, err error) {
	label := outcome.String()
	if err != nil {
		label = "error"
	}
	metrics.CoordinatorOperations.WithLabelValues(k.String(), label).Inc()
}

func throttleKey(c domain.OperationContext) string {
	return string(c.LedgerAddress) + "|" + string(c.SignerAddress)
}
