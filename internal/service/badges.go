package service

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"score-ledger/internal/badge"
	"score-ledger/internal/client"
	"score-ledger/internal/constants"
	"score-ledger/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type TxSigner interface {
	Address() domain.Address
	PublicKey() ed25519.PublicKey
	SignDigest(ctx context.Context, digest domain.Hash) ([]byte, error)
}

type BadgeService struct {
	ledger    *client.LedgerClient
	signer    TxSigner
	evaluator *badge.Evaluator
	logger    zerolog.Logger
}

func NewBadgeService(ledger *client.LedgerClient, signer TxSigner, evaluator *badge.Evaluator, logger zerolog.Logger) *BadgeService {
	return &BadgeService{ledger: ledger, signer: signer, evaluator: evaluator, logger: logger}
}

// Preview evaluates every badge for owner against the ledger's current
// stats and clock.
func (s *BadgeService) Preview(ctx context.Context, owner domain.Address) ([]badge.Progress, domain.PublicStats, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	var stats domain.PublicStats
	var claims []domain.BadgeClaim
	var now time.Time

	g.Go(func() error {
		var err error
		stats, err = s.ledger.StatsOf(gCtx, owner)
		return err
	})
	g.Go(func() error {
		var err error
		claims, err = s.ledger.Claims(gCtx, owner)
		return err
	})
	g.Go(func() error {
		var err error
		now, err = s.ledger.Now(gCtx)
		return err
	})

	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Str("owner", owner.String()).Msg("failed to load badge state")
		return nil, domain.PublicStats{}, fmt.Errorf("failed to load badge state: %w", err)
	}

	claimed := make(map[uint64]bool, len(claims))
	for _, c := range claims {
		claimed[c.BadgeID] = true
	}
	return s.evaluator.Preview(stats, now, claimed), stats, nil
}

// Claim sends a signed claim for badgeID and waits for its receipt.
func (s *BadgeService) Claim(ctx context.Context, badgeID uint64) (*domain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	nonce, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	tx := &domain.ClaimBadgeTx{
		From:      s.signer.Address(),
		PublicKey: s.signer.PublicKey(),
		Nonce:     nonce,
		BadgeID:   badgeID,
	}
	if tx.Signature, err = s.signer.SignDigest(ctx, tx.Digest()); err != nil {
		return nil, fmt.Errorf("failed to sign claim: %w", err)
	}

	txID, err := s.ledger.ClaimBadge(ctx, tx)
	if err != nil {
		s.logger.Warn().Err(err).Uint64("badge_id", badgeID).Msg("badge claim rejected")
		return nil, err
	}
	receipt, err := s.ledger.WaitReceipt(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm claim %s: %w", txID, err)
	}
	s.logger.Info().Uint64("badge_id", badgeID).Str("tx_id", txID.String()).Msg("badge claimed")
	return receipt, nil
}
