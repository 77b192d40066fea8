// Package ledger is the authoritative state machine for encrypted score
// aggregates, public statistics and badge claims. Writes are serialized and
// each one commits in a single database transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"score-ledger/internal/badge"
	"score-ledger/internal/constants"
	"score-ledger/internal/domain"
	"score-ledger/internal/fhe"
	"score-ledger/internal/metrics"
	"score-ledger/internal/repository"
	"score-ledger/internal/wallet"

	"github.com/rs/zerolog"
)

const (
	receiptSubmit = "submit"
	receiptClaim  = "claim_badge"
)

type Ledger struct {
	address domain.Address
	repo    *repository.LedgerRepository
	engine  fhe.Engine
	badges  *badge.Evaluator
	clock   func() time.Time
	logger  zerolog.Logger

	// serializes writers; one transaction succeeds at a time
	mu sync.Mutex
}

func New(address domain.Address, repo *repository.LedgerRepository, engine fhe.Engine, badges *badge.Evaluator, logger zerolog.Logger) *Ledger {
	return &Ledger{
		address: address,
		repo:    repo,
		engine:  engine,
		badges:  badges,
		clock:   time.Now,
		logger:  logger.With().Str("component", "ledger").Logger(),
	}
}

func (l *Ledger) SetClock(clock func() time.Time) {
	l.clock = clock
}

func (l *Ledger) Address() domain.Address {
	return l.address
}

// Now is the ledger time at second resolution, the precision timestamps are
// recorded with.
func (l *Ledger) Now() time.Time {
	return time.Unix(l.clock().Unix(), 0)
}

// Submit adds an encrypted score to the sender's aggregate and records the
// submission, its public statistics, decrypt rights and index event.
func (l *Ledger) Submit(ctx context.Context, tx *domain.SubmitTx) (*domain.Receipt, error) {
	receipt, err := l.submit(ctx, tx)
	metrics.SubmissionsTotal.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		l.logger.Warn().Err(err).Str("owner", tx.From.String()).Msg("submission rejected")
		return nil, err
	}
	l.logger.Info().
		Str("owner", tx.From.String()).
		Uint64("submission_id", receipt.SubmissionID).
		Uint32("public_score", tx.PublicScore).
		Str("tx_id", receipt.TxID.String()).
		Msg("submission recorded")
	return receipt, nil
}

func (l *Ledger) submit(ctx context.Context, tx *domain.SubmitTx) (*domain.Receipt, error) {
	txID := tx.Digest()
	if err := wallet.VerifyDigest(tx.From, tx.PublicKey, tx.Signature, txID); err != nil {
		return nil, err
	}
	score, err := l.engine.VerifyInput(ctx, fhe.ExternalInput{Handle: tx.EncryptedScore, Proof: tx.InputProof}, tx.From, l.address)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureNew(ctx, txID); err != nil {
		return nil, err
	}

	// Ciphertext arithmetic runs before the database transaction. If the
	// transaction fails the new handles are simply never referenced.
	total, err := l.currentTotal(ctx, tx.From)
	if err != nil {
		return nil, err
	}
	newTotal, err := l.engine.Add(ctx, total, score)
	if err != nil {
		return nil, fmt.Errorf("failed to add score: %w", err)
	}

	now := l.Now()
	receipt := &domain.Receipt{TxID: txID, Kind: receiptSubmit, From: tx.From, ConfirmedAt: now}

	err = l.repo.InTx(ctx, func(q *repository.LedgerTx) error {
		if err := q.PutAggregate(ctx, domain.Aggregate{Owner: tx.From, EncryptedTotal: newTotal, UpdatedAt: now}); err != nil {
			return fmt.Errorf("failed to store aggregate: %w", err)
		}
		if err := q.Allow(ctx, newTotal, tx.From, l.address); err != nil {
			return err
		}
		if err := q.Allow(ctx, score, tx.From, l.address); err != nil {
			return err
		}

		id, err := q.NextSubmissionID(ctx)
		if err != nil {
			return fmt.Errorf("failed to assign submission id: %w", err)
		}
		if err := q.InsertSubmission(ctx, domain.Submission{
			ID:             id,
			Owner:          tx.From,
			ResultHash:     tx.ResultHash,
			ResultRef:      tx.ResultRef,
			PublicScore:    tx.PublicScore,
			EncryptedScore: score,
			SubmittedAt:    now,
		}); err != nil {
			return fmt.Errorf("failed to store submission: %w", err)
		}

		stats, err := q.Stats(ctx, tx.From)
		if err != nil {
			return fmt.Errorf("failed to read stats: %w", err)
		}
		stats.Owner = tx.From
		stats.GamesPlayed++
		stats.TotalPublicScore += uint64(tx.PublicScore)
		stats.MaxSinglePublicScore = max(stats.MaxSinglePublicScore, tx.PublicScore)
		stats.LastPlayedAt = now
		if err := q.PutStats(ctx, stats); err != nil {
			return fmt.Errorf("failed to store stats: %w", err)
		}

		if _, err := q.AppendEvent(ctx, domain.Event{
			Kind:         domain.EventSubmission,
			Owner:        tx.From,
			SubmissionID: id,
			ResultHash:   tx.ResultHash,
			ResultRef:    tx.ResultRef,
			PublicScore:  tx.PublicScore,
			Timestamp:    now,
		}); err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}

		receipt.SubmissionID = id
		return q.InsertReceipt(ctx, *receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (l *Ledger) currentTotal(ctx context.Context, owner domain.Address) (domain.Handle, error) {
	agg, err := l.repo.Aggregate(ctx, owner)
	if errors.Is(err, domain.ErrNotFound) {
		h, err := l.engine.TrivialEncrypt(ctx, 0, fhe.EUint64)
		if err != nil {
			return domain.Handle{}, fmt.Errorf("failed to initialize aggregate: %w", err)
		}
		return h, nil
	}
	if err != nil {
		return domain.Handle{}, fmt.Errorf("failed to read aggregate: %w", err)
	}
	return agg.EncryptedTotal, nil
}

func (l *Ledger) ensureNew(ctx context.Context, txID domain.Hash) error {
	_, err := l.repo.Receipt(ctx, txID)
	switch {
	case err == nil:
		return domain.ErrDuplicateTransaction
	case errors.Is(err, domain.ErrNotFound):
		return nil
	default:
		return err
	}
}

// ClaimBadge marks a badge as claimed for the sender if its predicate holds
// against the sender's current public statistics. A claim is set once.
func (l *Ledger) ClaimBadge(ctx context.Context, tx *domain.ClaimBadgeTx) (*domain.Receipt, error) {
	receipt, err := l.claimBadge(ctx, tx)
	metrics.BadgeClaimsTotal.WithLabelValues(strconv.FormatUint(tx.BadgeID, 10), claimResult(err)).Inc()
	if err != nil {
		l.logger.Warn().Err(err).Str("owner", tx.From.String()).Uint64("badge_id", tx.BadgeID).Msg("badge claim rejected")
		return nil, err
	}
	l.logger.Info().Str("owner", tx.From.String()).Uint64("badge_id", tx.BadgeID).Msg("badge claimed")
	return receipt, nil
}

func (l *Ledger) claimBadge(ctx context.Context, tx *domain.ClaimBadgeTx) (*domain.Receipt, error) {
	txID := tx.Digest()
	if err := wallet.VerifyDigest(tx.From, tx.PublicKey, tx.Signature, txID); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureNew(ctx, txID); err != nil {
		return nil, err
	}

	now := l.Now()
	receipt := &domain.Receipt{TxID: txID, Kind: receiptClaim, From: tx.From, BadgeID: tx.BadgeID, ConfirmedAt: now}

	err := l.repo.InTx(ctx, func(q *repository.LedgerTx) error {
		claimed, err := q.IsClaimed(ctx, tx.BadgeID, tx.From)
		if err != nil {
			return err
		}
		if claimed {
			return domain.ErrAlreadyClaimed
		}

		stats, err := q.Stats(ctx, tx.From)
		if err != nil {
			return err
		}
		ok, err := l.badges.Eligible(tx.BadgeID, stats, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConditionsNotMet
		}

		if err := q.InsertClaim(ctx, domain.BadgeClaim{BadgeID: tx.BadgeID, Owner: tx.From, ClaimedAt: now}); err != nil {
			return fmt.Errorf("failed to store claim: %w", err)
		}
		if _, err := q.AppendEvent(ctx, domain.Event{
			Kind:      domain.EventBadgeClaimed,
			Owner:     tx.From,
			BadgeID:   tx.BadgeID,
			Timestamp: now,
		}); err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
		return q.InsertReceipt(ctx, *receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func claimResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, domain.ErrConditionsNotMet):
		return "conditions_not_met"
	case errors.Is(err, domain.ErrUnknownBadge):
		return "unknown_badge"
	default:
		return "error"
	}
}

// TotalOf returns the owner's encrypted aggregate, or the zero handle if the
// owner never submitted.
func (l *Ledger) TotalOf(ctx context.Context, owner domain.Address) (domain.Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	agg, err := l.repo.Aggregate(ctx, owner)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Handle{}, nil
	}
	if err != nil {
		return domain.Handle{}, err
	}
	return agg.EncryptedTotal, nil
}

// ScoreOf returns the encrypted score of a submission, or the zero handle
// for unknown ids.
func (l *Ledger) ScoreOf(ctx context.Context, id uint64) (domain.Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	s, err := l.repo.Submission(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Handle{}, nil
	}
	if err != nil {
		return domain.Handle{}, err
	}
	return s.EncryptedScore, nil
}

func (l *Ledger) StatsOf(ctx context.Context, owner domain.Address) (domain.PublicStats, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return l.repo.Stats(ctx, owner)
}

func (l *Ledger) IsClaimed(ctx context.Context, badgeID uint64, owner domain.Address) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return l.repo.IsClaimed(ctx, badgeID, owner)
}

func (l *Ledger) Claims(ctx context.Context, owner domain.Address) ([]domain.BadgeClaim, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return l.repo.Claims(ctx, owner)
}

func (l *Ledger) Events(ctx context.Context, afterSeq uint64, limit int) ([]domain.Event, error) {
	if limit <= 0 || limit > constants.EventPageLimit {
		limit = constants.EventPageLimit
	}
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return l.repo.Events(ctx, afterSeq, limit)
}

func (l *Ledger) Receipt(ctx context.Context, txID domain.Hash) (*domain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return l.repo.Receipt(ctx, txID)
}

func (l *Ledger) SubmissionCount(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return l.repo.SubmissionCount(ctx)
}
