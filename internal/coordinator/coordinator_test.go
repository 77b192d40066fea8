package coordinator

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"score-ledger/internal/capability"
	"score-ledger/internal/domain"
	"score-ledger/internal/fhe"
	"score-ledger/internal/wallet"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	testChain   = 31337
	ledgerAddr  = domain.Address("0x5c0e1ed9e5000000000000000000000000000001")
	otherLedger = domain.Address("0x5c0e1ed9e5000000000000000000000000000002")
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// world fakes the ledger, the input encryptor and the decryptor. Handles
// are sequence numbers mapped to cleartext values.
type world struct {
	mu       sync.Mutex
	seq      uint64
	values   map[domain.Handle]uint64
	totals   map[domain.Address]domain.Handle
	receipts map[domain.Hash]*domain.Receipt
	txs      []*domain.SubmitTx
	reads    int
	decrypts int

	submitErr error
	read      gate
	encrypt   gate
	decrypt   gate
}

type gate struct {
	open    chan struct{}
	started chan struct{}
}

func (g gate) pass(ctx context.Context) error {
	if g.started != nil {
		select {
		case g.started <- struct{}{}:
		default:
		}
	}
	if g.open == nil {
		return nil
	}
	select {
	case <-g.open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newWorld() *world {
	return &world{
		values:   make(map[domain.Handle]uint64),
		totals:   make(map[domain.Address]domain.Handle),
		receipts: make(map[domain.Hash]*domain.Receipt),
	}
}

func (w *world) newHandle(v uint64) domain.Handle {
	w.seq++
	var h domain.Handle
	binary.BigEndian.PutUint64(h[:8], w.seq)
	w.values[h] = v
	return h
}

func (w *world) setTotal(owner domain.Address, v uint64) domain.Handle {
	w.mu.Lock()
	defer w.mu.Unlock()
	h := w.newHandle(v)
	w.totals[owner] = h
	return h
}

// block makes the selected operation wait until the returned channel is
// closed. started receives once the operation has been entered.
func (w *world) block(g *gate) (chan struct{}, chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	g.open = make(chan struct{})
	g.started = make(chan struct{}, 1)
	return g.open, g.started
}

func (w *world) counts() (reads, decrypts, txs int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reads, w.decrypts, len(w.txs)
}

func (w *world) TotalOf(ctx context.Context, owner domain.Address) (domain.Handle, error) {
	w.mu.Lock()
	w.reads++
	g := w.read
	w.mu.Unlock()
	if err := g.pass(ctx); err != nil {
		return domain.Handle{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totals[owner], nil
}

func (w *world) Submit(_ context.Context, tx *domain.SubmitTx) (domain.Hash, error) {
	if err := wallet.VerifyDigest(tx.From, tx.PublicKey, tx.Signature, tx.Digest()); err != nil {
		return domain.Hash{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitErr != nil {
		return domain.Hash{}, w.submitErr
	}
	w.txs = append(w.txs, tx)
	total := w.values[w.totals[tx.From]] + w.values[tx.EncryptedScore]
	w.totals[tx.From] = w.newHandle(total)
	id := tx.Digest()
	w.receipts[id] = &domain.Receipt{TxID: id, Kind: "submit", From: tx.From, SubmissionID: uint64(len(w.txs))}
	return id, nil
}

func (w *world) WaitReceipt(_ context.Context, txID domain.Hash) (*domain.Receipt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.receipts[txID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (w *world) EncryptUint32(ctx context.Context, _, _ domain.Address, value uint32) (fhe.ExternalInput, error) {
	w.mu.Lock()
	g := w.encrypt
	w.mu.Unlock()
	if err := g.pass(ctx); err != nil {
		return fhe.ExternalInput{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return fhe.ExternalInput{Handle: w.newHandle(uint64(value)), Proof: []byte("proof")}, nil
}

func (w *world) UserDecrypt(ctx context.Context, req fhe.UserDecryptRequest) (map[domain.Handle]uint64, error) {
	if err := wallet.VerifyCapability(&req.Capability, time.Now()); err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.decrypts++
	g := w.decrypt
	w.mu.Unlock()
	if err := g.pass(ctx); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[domain.Handle]uint64, len(req.Handles))
	for _, hc := range req.Handles {
		out[hc.Handle] = w.values[hc.Handle]
	}
	return out, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	w       *world
	clock   *fakeClock
	signer  *wallet.Local
	prompts atomic.Int32
	reject  atomic.Bool
	coord   *Coordinator
}

func newSigner(t *testing.T, seed byte, confirm wallet.ConfirmFunc) *wallet.Local {
	t.Helper()
	key := make([]byte, 32)
	key[0] = seed
	s, err := wallet.NewLocal(key, confirm)
	require.NoError(t, err)
	return s
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		w:     newWorld(),
		clock: &fakeClock{now: time.Unix(1_700_000_000, 0)},
	}
	h.signer = newSigner(t, 1, func(context.Context, domain.CapabilityRequest) (bool, error) {
		h.prompts.Add(1)
		return !h.reject.Load(), nil
	})
	store, err := capability.NewMemoryStore(16)
	require.NoError(t, err)
	h.coord = New(testChain, ledgerAddr, h.signer, Deps{
		Ledger:       h.w,
		Encryptor:    h.w,
		Decryptor:    h.w,
		Capabilities: capability.NewCache(testChain, 10, zerolog.Nop()),
		Store:        store,
	}, zerolog.Nop())
	h.coord.SetClock(h.clock.Now)
	t.Cleanup(func() { require.NoError(t, h.coord.Close()) })
	return h
}

type refreshResult struct {
	outcome Outcome
	err     error
}

func (h *harness) refreshAsync(ctx context.Context) chan refreshResult {
	out := make(chan refreshResult, 1)
	go func() {
		o, err := h.coord.Refresh(ctx)
		out <- refreshResult{o, err}
	}()
	return out
}

type decryptResult struct {
	res DecryptResult
	err error
}

func (h *harness) decryptAsync(ctx context.Context) chan decryptResult {
	out := make(chan decryptResult, 1)
	go func() {
		r, err := h.coord.Decrypt(ctx, DecryptOptions{})
		out <- decryptResult{r, err}
	}()
	return out
}

func TestRefreshThrottle(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	handle := h.w.setTotal(h.signer.Address(), 12)

	out, err := h.coord.Refresh(ctx)
	require.NoError(err)
	require.Equal(OutcomeApplied, out)
	require.Equal(handle, h.coord.Snapshot().Handle)

	h.clock.Advance(1999 * time.Millisecond)
	out, err = h.coord.Refresh(ctx)
	require.NoError(err)
	require.Equal(OutcomeThrottled, out)
	reads, _, _ := h.w.counts()
	require.Equal(1, reads)

	h.clock.Advance(2 * time.Millisecond)
	out, err = h.coord.Refresh(ctx)
	require.NoError(err)
	require.Equal(OutcomeApplied, out)
	reads, _, _ = h.w.counts()
	require.Equal(2, reads)
}

func TestRefreshRetriesAfterFailure(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	handle := h.w.setTotal(h.signer.Address(), 4)

	open, started := h.w.block(&h.w.read)
	ctx, cancel := context.WithCancel(context.Background())
	pending := h.refreshAsync(ctx)
	<-started
	cancel()
	r := <-pending
	require.ErrorIs(r.err, context.Canceled)
	require.True(h.coord.Snapshot().Handle.IsZero())
	close(open)

	h.clock.Advance(100 * time.Millisecond)
	out, err := h.coord.Refresh(context.Background())
	require.NoError(err)
	require.Equal(OutcomeApplied, out)
	require.Equal(handle, h.coord.Snapshot().Handle)
}

func TestRefreshRetriesAfterStaleRead(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	handle := h.w.setTotal(h.signer.Address(), 4)

	open, started := h.w.block(&h.w.read)
	pending := h.refreshAsync(context.Background())
	<-started
	h.coord.SetLedger(otherLedger)
	close(open)
	r := <-pending
	require.NoError(r.err)
	require.Equal(OutcomeStale, r.outcome)

	h.coord.SetLedger(ledgerAddr)
	h.clock.Advance(100 * time.Millisecond)
	out, err := h.coord.Refresh(context.Background())
	require.NoError(err)
	require.Equal(OutcomeApplied, out)
	require.Equal(handle, h.coord.Snapshot().Handle)
}

func TestRefreshAfterSwitchingBack(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	handle := h.w.setTotal(h.signer.Address(), 21)

	out, err := h.coord.Refresh(ctx)
	require.NoError(err)
	require.Equal(OutcomeApplied, out)

	h.coord.SetLedger(otherLedger)
	h.coord.SetLedger(ledgerAddr)
	require.True(h.coord.Snapshot().Handle.IsZero())

	h.clock.Advance(500 * time.Millisecond)
	out, err = h.coord.Refresh(ctx)
	require.NoError(err)
	require.Equal(OutcomeApplied, out)
	require.Equal(handle, h.coord.Snapshot().Handle)

	res, err := h.coord.Decrypt(ctx, DecryptOptions{})
	require.NoError(err)
	require.Equal(uint64(21), res.Value)

	// the applied read throttles the next one again
	out, err = h.coord.Refresh(ctx)
	require.NoError(err)
	require.Equal(OutcomeThrottled, out)
}

func TestRefreshThrottleIsPerSigner(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.coord.Refresh(ctx)
	require.NoError(err)

	h.coord.SetSigner(newSigner(t, 2, nil))
	out, err := h.coord.Refresh(ctx)
	require.NoError(err)
	require.Equal(OutcomeApplied, out)

	reads, _, _ := h.w.counts()
	require.Equal(2, reads)
}

func TestRefreshSingleFlight(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	h.w.setTotal(h.signer.Address(), 3)

	open, started := h.w.block(&h.w.read)
	first := h.refreshAsync(ctx)
	<-started
	require.Equal(PhaseFetching, h.coord.Snapshot().Refresh)

	out, err := h.coord.Refresh(ctx)
	require.NoError(err)
	require.Equal(OutcomeInFlight, out)

	close(open)
	r := <-first
	require.NoError(r.err)
	require.Equal(OutcomeApplied, r.outcome)
	require.Equal(PhaseIdle, h.coord.Snapshot().Refresh)

	reads, _, _ := h.w.counts()
	require.Equal(1, reads)
}

func TestRefreshNotReady(t *testing.T) {
	h := newHarness(t)
	h.coord.SetSigner(nil)

	_, err := h.coord.Refresh(context.Background())
	require.ErrorIs(t, err, domain.ErrNotReady)
}

func TestRefreshDiscardsStale(t *testing.T) {
	tests := []struct {
		name   string
		change func(t *testing.T, c *Coordinator)
	}{
		{"signer", func(t *testing.T, c *Coordinator) { c.SetSigner(newSigner(t, 2, nil)) }},
		{"ledger", func(_ *testing.T, c *Coordinator) { c.SetLedger(otherLedger) }},
		{"chain", func(_ *testing.T, c *Coordinator) { c.SetChain(1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			h := newHarness(t)
			h.w.setTotal(h.signer.Address(), 9)

			open, started := h.w.block(&h.w.read)
			pending := h.refreshAsync(context.Background())
			<-started
			tt.change(t, h.coord)
			close(open)

			r := <-pending
			require.NoError(r.err)
			require.Equal(OutcomeStale, r.outcome)
			require.True(h.coord.Snapshot().Handle.IsZero())
		})
	}
}

func TestDecryptWithoutCiphertext(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.coord.Decrypt(ctx, DecryptOptions{})
	require.ErrorIs(err, domain.ErrNoCiphertext)

	out, err := h.coord.Refresh(ctx)
	require.NoError(err)
	require.Equal(OutcomeApplied, out)
	require.True(h.coord.Snapshot().Handle.IsZero())

	_, err = h.coord.Decrypt(ctx, DecryptOptions{})
	require.ErrorIs(err, domain.ErrNoCiphertext)

	require.Equal(int32(0), h.prompts.Load())
	_, decrypts, _ := h.w.counts()
	require.Zero(decrypts)
	require.Equal(PhaseIdle, h.coord.Snapshot().Decrypt)
}

func TestDecryptReveals(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	h.w.setTotal(h.signer.Address(), 42)

	_, err := h.coord.Refresh(ctx)
	require.NoError(err)

	res, err := h.coord.Decrypt(ctx, DecryptOptions{})
	require.NoError(err)
	require.Equal(OutcomeApplied, res.Outcome)
	require.Equal(uint64(42), res.Value)
	require.False(res.WaitTimedOut)

	snap := h.coord.Snapshot()
	require.NotNil(snap.Cleartext)
	require.Equal(uint64(42), *snap.Cleartext)

	// capability is reused until forced
	_, err = h.coord.Decrypt(ctx, DecryptOptions{})
	require.NoError(err)
	require.Equal(int32(1), h.prompts.Load())

	_, err = h.coord.Decrypt(ctx, DecryptOptions{ForceSign: true})
	require.NoError(err)
	require.Equal(int32(2), h.prompts.Load())
}

func TestDecryptSigningRejected(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	h.w.setTotal(h.signer.Address(), 42)
	h.reject.Store(true)

	_, err := h.coord.Refresh(ctx)
	require.NoError(err)

	_, err = h.coord.Decrypt(ctx, DecryptOptions{})
	require.ErrorIs(err, domain.ErrCapabilitySigningRejected)
	_, decrypts, _ := h.w.counts()
	require.Zero(decrypts)
	require.Nil(h.coord.Snapshot().Cleartext)

	// the lock was released
	h.reject.Store(false)
	res, err := h.coord.Decrypt(ctx, DecryptOptions{})
	require.NoError(err)
	require.Equal(uint64(42), res.Value)
}

func TestDecryptWaitsForRefresh(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	handle := h.w.setTotal(h.signer.Address(), 17)

	open, started := h.w.block(&h.w.read)
	refresh := h.refreshAsync(ctx)
	<-started

	pending := h.decryptAsync(ctx)
	time.Sleep(20 * time.Millisecond)
	close(open)

	r := <-refresh
	require.NoError(r.err)
	d := <-pending
	require.NoError(d.err)
	require.Equal(OutcomeApplied, d.res.Outcome)
	require.False(d.res.WaitTimedOut)
	require.Equal(uint64(17), d.res.Value)
	require.Equal(handle, h.coord.Snapshot().Handle)
}

func TestDecryptWaitTimeout(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	h.coord.refreshWait = 50 * time.Millisecond
	handle := h.w.setTotal(h.signer.Address(), 8)

	_, err := h.coord.Refresh(ctx)
	require.NoError(err)

	h.clock.Advance(3 * time.Second)
	open, started := h.w.block(&h.w.read)
	refresh := h.refreshAsync(ctx)
	<-started

	res, err := h.coord.Decrypt(ctx, DecryptOptions{})
	require.NoError(err)
	require.True(res.WaitTimedOut)
	require.Equal(OutcomeApplied, res.Outcome)
	require.Equal(uint64(8), res.Value)

	close(open)
	r := <-refresh
	require.NoError(r.err)
	require.Equal(OutcomeApplied, r.outcome)

	// an applied refresh drops the revealed value even for the same handle
	snap := h.coord.Snapshot()
	require.Equal(handle, snap.Handle)
	require.Nil(snap.Cleartext)
}

func TestDecryptAlreadyInProgress(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	h.w.setTotal(h.signer.Address(), 5)
	_, err := h.coord.Refresh(ctx)
	require.NoError(err)

	open, started := h.w.block(&h.w.decrypt)
	first := h.decryptAsync(ctx)
	<-started
	require.Equal(PhaseRequesting, h.coord.Snapshot().Decrypt)

	_, err = h.coord.Decrypt(ctx, DecryptOptions{})
	require.ErrorIs(err, domain.ErrAlreadyInProgress)

	close(open)
	d := <-first
	require.NoError(d.err)
	require.Equal(uint64(5), d.res.Value)
}

func TestDecryptDiscardsStale(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	h.w.setTotal(h.signer.Address(), 5)
	_, err := h.coord.Refresh(ctx)
	require.NoError(err)

	open, started := h.w.block(&h.w.decrypt)
	pending := h.decryptAsync(ctx)
	<-started
	h.coord.SetLedger(otherLedger)
	close(open)

	d := <-pending
	require.NoError(d.err)
	require.Equal(OutcomeStale, d.res.Outcome)
	snap := h.coord.Snapshot()
	require.Nil(snap.Cleartext)
	require.Equal(otherLedger, snap.Context.LedgerAddress)
}

func TestDecryptDiscardsSupersededHandle(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	h.w.setTotal(h.signer.Address(), 5)
	_, err := h.coord.Refresh(ctx)
	require.NoError(err)

	open, started := h.w.block(&h.w.decrypt)
	pending := h.decryptAsync(ctx)
	<-started

	newer := h.w.setTotal(h.signer.Address(), 11)
	h.clock.Advance(3 * time.Second)
	out, err := h.coord.Refresh(ctx)
	require.NoError(err)
	require.Equal(OutcomeApplied, out)

	close(open)
	d := <-pending
	require.NoError(d.err)
	require.Equal(OutcomeStale, d.res.Outcome)

	snap := h.coord.Snapshot()
	require.Equal(newer, snap.Handle)
	require.Nil(snap.Cleartext)
}

func TestSubmitAggregates(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	h := newHarness(t)

	first, err := h.coord.Submit(ctx, SubmitRequest{Score: 5, PublicScore: 5, ResultRef: "sha256:01"})
	require.NoError(err)
	require.Equal(OutcomeApplied, first.Outcome)
	require.Equal(uint64(1), first.SubmissionID)
	require.False(first.TxID.IsZero())
	require.NoError(h.coord.bg.Wait())

	second, err := h.coord.Submit(ctx, SubmitRequest{Score: 7, PublicScore: 7, ResultRef: "sha256:02"})
	require.NoError(err)
	require.Equal(uint64(2), second.SubmissionID)
	require.NoError(h.coord.bg.Wait())

	require.False(h.coord.Snapshot().Handle.IsZero())
	res, err := h.coord.Decrypt(ctx, DecryptOptions{})
	require.NoError(err)
	require.Equal(uint64(12), res.Value)

	_, _, txs := h.w.counts()
	require.Equal(2, txs)
	require.NotEqual(h.w.txs[0].Nonce, h.w.txs[1].Nonce)
	require.Equal(PhaseIdle, h.coord.Snapshot().Submit)
}

func TestSubmitGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("no signer", func(t *testing.T) {
		h := newHarness(t)
		h.coord.SetSigner(nil)
		_, err := h.coord.Submit(ctx, SubmitRequest{Score: 1})
		require.ErrorIs(t, err, domain.ErrNotReady)
	})

	t.Run("no encryptor", func(t *testing.T) {
		c := New(testChain, ledgerAddr, newSigner(t, 3, nil), Deps{Ledger: newWorld()}, zerolog.Nop())
		t.Cleanup(func() { c.Close() })
		_, err := c.Submit(ctx, SubmitRequest{Score: 1})
		require.ErrorIs(t, err, domain.ErrNotReady)
	})

	t.Run("refresh in flight", func(t *testing.T) {
		require := require.New(t)
		h := newHarness(t)
		open, started := h.w.block(&h.w.read)
		refresh := h.refreshAsync(ctx)
		<-started

		_, err := h.coord.Submit(ctx, SubmitRequest{Score: 1})
		require.ErrorIs(err, domain.ErrAlreadyInProgress)

		close(open)
		require.NoError((<-refresh).err)
	})

	t.Run("submit in flight", func(t *testing.T) {
		require := require.New(t)
		h := newHarness(t)
		open, started := h.w.block(&h.w.encrypt)
		pending := make(chan error, 1)
		go func() {
			_, err := h.coord.Submit(ctx, SubmitRequest{Score: 1, PublicScore: 1})
			pending <- err
		}()
		<-started
		require.Equal(PhaseEncrypting, h.coord.Snapshot().Submit)

		_, err := h.coord.Submit(ctx, SubmitRequest{Score: 2})
		require.ErrorIs(err, domain.ErrAlreadyInProgress)

		close(open)
		require.NoError(<-pending)
	})
}

func TestSubmitCancelledWhenStale(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	open, started := h.w.block(&h.w.encrypt)
	pending := make(chan SubmitResult, 1)
	go func() {
		res, err := h.coord.Submit(context.Background(), SubmitRequest{Score: 4, PublicScore: 4})
		if err != nil {
			t.Error(err)
		}
		pending <- res
	}()
	<-started
	h.coord.SetSigner(newSigner(t, 2, nil))
	close(open)

	res := <-pending
	require.Equal(OutcomeStale, res.Outcome)
	_, _, txs := h.w.counts()
	require.Zero(txs)
}

func TestSubmitLedgerRejection(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	h.w.submitErr = domain.ErrProofInvalid

	_, err := h.coord.Submit(context.Background(), SubmitRequest{Score: 4, PublicScore: 4})
	require.True(errors.Is(err, domain.ErrProofInvalid))
	require.Equal(PhaseIdle, h.coord.Snapshot().Submit)

	reads, _, _ := h.w.counts()
	require.Zero(reads)
}
