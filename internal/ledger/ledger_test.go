package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"score-ledger/internal/badge"
	"score-ledger/internal/database"
	"score-ledger/internal/db"
	"score-ledger/internal/domain"
	"score-ledger/internal/fhe"
	"score-ledger/internal/repository"
	"score-ledger/internal/wallet"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var ledgerAddr = domain.Address("0x5c0e1ed9e5000000000000000000000000000001")

type testEnv struct {
	ledger *Ledger
	cop    *fhe.Coprocessor
	repo   *repository.LedgerRepository
	now    time.Time
	nonce  int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	sqlDB, err := database.Open(filepath.Join(t.TempDir(), "ledger.db"), database.LedgerSchema, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	q := db.New(sqlDB)
	repo := repository.NewLedgerRepository(sqlDB, q, zerolog.Nop())
	cop, err := fhe.NewCoprocessor(bytes.Repeat([]byte{7}, 32), repository.NewCiphertextRepository(q), repo, wallet.VerifyCapability, zerolog.Nop())
	require.NoError(t, err)

	env := &testEnv{
		ledger: New(ledgerAddr, repo, cop, badge.NewEvaluator(), zerolog.Nop()),
		cop:    cop,
		repo:   repo,
		now:    time.Unix(1_700_000_000, 0),
	}
	env.ledger.SetClock(func() time.Time { return env.now })
	cop.SetClock(func() time.Time { return env.now })
	return env
}

func newWallet(t *testing.T, seed byte) *wallet.Local {
	t.Helper()
	w, err := wallet.NewLocal(bytes.Repeat([]byte{seed}, 32), nil)
	require.NoError(t, err)
	return w
}

func (e *testEnv) submitTx(t *testing.T, w *wallet.Local, score, public uint32) *domain.SubmitTx {
	t.Helper()
	ctx := context.Background()

	in, err := e.cop.EncryptInput(ctx, w.Address(), ledgerAddr, score)
	require.NoError(t, err)

	e.nonce++
	doc := []byte(fmt.Sprintf(`{"score":%d}`, score))
	tx := &domain.SubmitTx{
		From:           w.Address(),
		PublicKey:      w.PublicKey(),
		Nonce:          fmt.Sprintf("nonce-%d", e.nonce),
		EncryptedScore: in.Handle,
		InputProof:     in.Proof,
		ResultHash:     sha256.Sum256(doc),
		ResultRef:      fmt.Sprintf("sha256:%x", sha256.Sum256(doc)),
		PublicScore:    public,
	}
	sign(t, w, tx.Digest(), &tx.Signature)
	return tx
}

func (e *testEnv) claimTx(t *testing.T, w *wallet.Local, badgeID uint64) *domain.ClaimBadgeTx {
	t.Helper()
	e.nonce++
	tx := &domain.ClaimBadgeTx{
		From:      w.Address(),
		PublicKey: w.PublicKey(),
		Nonce:     fmt.Sprintf("nonce-%d", e.nonce),
		BadgeID:   badgeID,
	}
	sign(t, w, tx.Digest(), &tx.Signature)
	return tx
}

func sign(t *testing.T, w *wallet.Local, digest domain.Hash, dst *[]byte) {
	t.Helper()
	sig, err := w.SignDigest(context.Background(), digest)
	require.NoError(t, err)
	*dst = sig
}

func (e *testEnv) reveal(t *testing.T, w *wallet.Local, handle domain.Handle) (uint64, error) {
	t.Helper()
	ctx := context.Background()

	pub, priv, err := fhe.GenerateKeypair()
	require.NoError(t, err)
	req := domain.CapabilityRequest{
		UserAddress:       w.Address(),
		ContractAddresses: []domain.Address{ledgerAddr},
		PublicKey:         pub,
		StartTimestamp:    e.now.Unix(),
		DurationDays:      10,
	}
	sig, err := w.SignCapability(ctx, req)
	require.NoError(t, err)
	c := domain.DecryptionCapability{
		ContractAddresses: req.ContractAddresses,
		UserAddress:       req.UserAddress,
		PublicKey:         pub,
		PrivateKey:        priv,
		Signature:         sig,
		StartTimestamp:    req.StartTimestamp,
		DurationDays:      req.DurationDays,
	}

	sealed, err := e.cop.UserDecrypt(ctx, fhe.UserDecryptRequest{
		Handles:    []fhe.HandleContract{{Handle: handle, ContractAddress: ledgerAddr}},
		Capability: c,
	})
	if err != nil {
		return 0, err
	}
	require.Len(t, sealed, 1)
	return fhe.Open(&c, sealed[0])
}

func TestSubmitAggregatesScores(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	alice := newWallet(t, 1)

	first, err := env.ledger.Submit(ctx, env.submitTx(t, alice, 5, 5))
	require.NoError(err)
	require.Equal(uint64(1), first.SubmissionID)

	env.now = env.now.Add(time.Minute)
	second, err := env.ledger.Submit(ctx, env.submitTx(t, alice, 7, 7))
	require.NoError(err)
	require.Equal(uint64(2), second.SubmissionID)

	total, err := env.ledger.TotalOf(ctx, alice.Address())
	require.NoError(err)
	require.False(total.IsZero())
	require.Equal(fhe.EUint64, fhe.TypeOf(total))

	value, err := env.reveal(t, alice, total)
	require.NoError(err)
	require.Equal(uint64(12), value)

	stats, err := env.ledger.StatsOf(ctx, alice.Address())
	require.NoError(err)
	require.Equal(uint64(2), stats.GamesPlayed)
	require.Equal(uint64(12), stats.TotalPublicScore)
	require.Equal(uint32(7), stats.MaxSinglePublicScore)
	require.Equal(env.now.Unix(), stats.LastPlayedAt.Unix())

	count, err := env.repo.SubmissionCountByOwner(ctx, alice.Address())
	require.NoError(err)
	require.Equal(stats.GamesPlayed, count)

	score, err := env.ledger.ScoreOf(ctx, 1)
	require.NoError(err)
	value, err = env.reveal(t, alice, score)
	require.NoError(err)
	require.Equal(uint64(5), value)

	events, err := env.ledger.Events(ctx, 0, 0)
	require.NoError(err)
	require.Len(events, 2)
	require.Equal(domain.EventSubmission, events[1].Kind)
	require.Equal(uint64(2), events[1].SubmissionID)
	require.Equal(uint32(7), events[1].PublicScore)
	require.Equal(alice.Address(), events[1].Owner)

	got, err := env.ledger.Receipt(ctx, second.TxID)
	require.NoError(err)
	require.Equal(uint64(2), got.SubmissionID)
}

func TestSubmitSumProperty(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	w := newWallet(t, 3)

	scores := []uint32{0, 3, 17, 250, 1, 9}
	var sum uint64
	for _, s := range scores {
		_, err := env.ledger.Submit(ctx, env.submitTx(t, w, s, s))
		require.NoError(err)
		sum += uint64(s)
	}

	total, err := env.ledger.TotalOf(ctx, w.Address())
	require.NoError(err)
	value, err := env.reveal(t, w, total)
	require.NoError(err)
	require.Equal(sum, value)

	stats, err := env.ledger.StatsOf(ctx, w.Address())
	require.NoError(err)
	require.Equal(uint64(len(scores)), stats.GamesPlayed)
}

func TestReadsWithoutSubmissions(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	w := newWallet(t, 1)

	total, err := env.ledger.TotalOf(ctx, w.Address())
	require.NoError(err)
	require.True(total.IsZero())

	score, err := env.ledger.ScoreOf(ctx, 99)
	require.NoError(err)
	require.True(score.IsZero())

	stats, err := env.ledger.StatsOf(ctx, w.Address())
	require.NoError(err)
	require.Zero(stats.GamesPlayed)
	require.True(stats.LastPlayedAt.IsZero())
}

func TestReadsStopWithContext(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	w := newWallet(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.ledger.TotalOf(ctx, w.Address())
	require.ErrorIs(err, context.Canceled)

	_, err = env.ledger.SubmissionCount(ctx)
	require.ErrorIs(err, context.Canceled)
}

func TestSubmitRejectsInvalidProof(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	alice := newWallet(t, 1)
	bob := newWallet(t, 2)

	tx := env.submitTx(t, alice, 5, 5)
	tx.InputProof = bytes.Repeat([]byte{1}, len(tx.InputProof))
	sign(t, alice, tx.Digest(), &tx.Signature)
	_, err := env.ledger.Submit(ctx, tx)
	require.ErrorIs(err, domain.ErrProofInvalid)

	// an input encrypted for alice cannot be replayed by bob
	stolen := env.submitTx(t, alice, 5, 5)
	stolen.From = bob.Address()
	stolen.PublicKey = bob.PublicKey()
	sign(t, bob, stolen.Digest(), &stolen.Signature)
	_, err = env.ledger.Submit(ctx, stolen)
	require.ErrorIs(err, domain.ErrProofInvalid)

	for _, owner := range []domain.Address{alice.Address(), bob.Address()} {
		stats, err := env.ledger.StatsOf(ctx, owner)
		require.NoError(err)
		require.Zero(stats.GamesPlayed)
		total, err := env.ledger.TotalOf(ctx, owner)
		require.NoError(err)
		require.True(total.IsZero())
	}
	count, err := env.ledger.SubmissionCount(ctx)
	require.NoError(err)
	require.Zero(count)
	events, err := env.ledger.Events(ctx, 0, 10)
	require.NoError(err)
	require.Empty(events)
}

func TestSubmitRejectsBadSignatureAndReplay(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	alice := newWallet(t, 1)

	tx := env.submitTx(t, alice, 5, 5)
	forged := *tx
	forged.PublicScore = 500
	_, err := env.ledger.Submit(ctx, &forged)
	require.ErrorIs(err, domain.ErrInvalidSignature)

	_, err = env.ledger.Submit(ctx, tx)
	require.NoError(err)
	_, err = env.ledger.Submit(ctx, tx)
	require.ErrorIs(err, domain.ErrDuplicateTransaction)

	stats, err := env.ledger.StatsOf(ctx, alice.Address())
	require.NoError(err)
	require.Equal(uint64(1), stats.GamesPlayed)
}

func TestClaimBadge(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	alice := newWallet(t, 1)

	_, err := env.ledger.ClaimBadge(ctx, env.claimTx(t, alice, badge.ScoreTen))
	require.ErrorIs(err, domain.ErrConditionsNotMet)

	_, err = env.ledger.Submit(ctx, env.submitTx(t, alice, 4, 10))
	require.NoError(err)

	receipt, err := env.ledger.ClaimBadge(ctx, env.claimTx(t, alice, badge.ScoreTen))
	require.NoError(err)
	require.Equal(badge.ScoreTen, receipt.BadgeID)

	claimed, err := env.ledger.IsClaimed(ctx, badge.ScoreTen, alice.Address())
	require.NoError(err)
	require.True(claimed)

	_, err = env.ledger.ClaimBadge(ctx, env.claimTx(t, alice, badge.ScoreTen))
	require.ErrorIs(err, domain.ErrAlreadyClaimed)

	claimed, err = env.ledger.IsClaimed(ctx, badge.ScoreTen, alice.Address())
	require.NoError(err)
	require.True(claimed)

	_, err = env.ledger.ClaimBadge(ctx, env.claimTx(t, alice, 42))
	require.ErrorIs(err, domain.ErrUnknownBadge)

	claims, err := env.ledger.Claims(ctx, alice.Address())
	require.NoError(err)
	require.Len(claims, 1)

	events, err := env.ledger.Events(ctx, 1, 10)
	require.NoError(err)
	require.Len(events, 1)
	require.Equal(domain.EventBadgeClaimed, events[0].Kind)
	require.Equal(badge.ScoreTen, events[0].BadgeID)
}

func TestClaimRegularBadgeWindow(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	alice := newWallet(t, 1)
	bob := newWallet(t, 2)

	for i := 0; i < 3; i++ {
		_, err := env.ledger.Submit(ctx, env.submitTx(t, alice, 1, 1))
		require.NoError(err)
		_, err = env.ledger.Submit(ctx, env.submitTx(t, bob, 1, 1))
		require.NoError(err)
	}

	env.now = env.now.Add(7*24*time.Hour + time.Second)
	_, err := env.ledger.ClaimBadge(ctx, env.claimTx(t, bob, badge.Regular))
	require.ErrorIs(err, domain.ErrConditionsNotMet)

	env.now = env.now.Add(-time.Second)
	_, err = env.ledger.ClaimBadge(ctx, env.claimTx(t, alice, badge.Regular))
	require.NoError(err)
}

func TestDecryptRightsArePerOwner(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	alice := newWallet(t, 1)
	bob := newWallet(t, 2)

	_, err := env.ledger.Submit(ctx, env.submitTx(t, alice, 5, 5))
	require.NoError(err)
	_, err = env.ledger.Submit(ctx, env.submitTx(t, bob, 9, 9))
	require.NoError(err)

	aliceTotal, err := env.ledger.TotalOf(ctx, alice.Address())
	require.NoError(err)
	bobTotal, err := env.ledger.TotalOf(ctx, bob.Address())
	require.NoError(err)
	require.NotEqual(aliceTotal, bobTotal)

	v, err := env.reveal(t, bob, bobTotal)
	require.NoError(err)
	require.Equal(uint64(9), v)

	_, err = env.reveal(t, bob, aliceTotal)
	require.ErrorIs(err, domain.ErrNotAllowed)
}
