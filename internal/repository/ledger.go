package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"score-ledger/internal/db"
	"score-ledger/internal/domain"

	"github.com/rs/zerolog"
)

type LedgerRepository struct {
	queries *db.Queries
	db      *sql.DB
	logger  zerolog.Logger
}

func NewLedgerRepository(sqlDB *sql.DB, queries *db.Queries, logger zerolog.Logger) *LedgerRepository {
	return &LedgerRepository{
		queries: queries,
		db:      sqlDB,
		logger:  logger,
	}
}

// LedgerTx is the write view handed to InTx callbacks. Every call goes
// through the same sql.Tx, so a callback either commits entirely or not at all.
type LedgerTx struct {
	q *db.Queries
}

func (r *LedgerRepository) InTx(ctx context.Context, fn func(tx *LedgerTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&LedgerTx{q: r.queries.WithTx(tx)}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *LedgerRepository) Aggregate(ctx context.Context, owner domain.Address) (*domain.Aggregate, error) {
	return aggregate(ctx, r.queries, owner)
}

func (r *LedgerRepository) Submission(ctx context.Context, id uint64) (*domain.Submission, error) {
	row, err := r.queries.GetSubmission(ctx, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &domain.Submission{
		ID:             uint64(row.ID),
		Owner:          domain.Address(row.Owner),
		ResultHash:     toHash(row.ResultHash),
		ResultRef:      row.ResultRef,
		PublicScore:    uint32(row.PublicScore),
		EncryptedScore: toHandle(row.EncryptedScore),
		SubmittedAt:    fromUnix(row.SubmittedAt),
	}, nil
}

func (r *LedgerRepository) SubmissionCount(ctx context.Context) (uint64, error) {
	n, err := r.queries.CountSubmissions(ctx)
	return uint64(n), err
}

func (r *LedgerRepository) SubmissionCountByOwner(ctx context.Context, owner domain.Address) (uint64, error) {
	n, err := r.queries.CountSubmissionsByOwner(ctx, string(owner))
	return uint64(n), err
}

func (r *LedgerRepository) Stats(ctx context.Context, owner domain.Address) (domain.PublicStats, error) {
	return stats(ctx, r.queries, owner)
}

func (r *LedgerRepository) IsClaimed(ctx context.Context, badgeID uint64, owner domain.Address) (bool, error) {
	return r.queries.BadgeClaimExists(ctx, int64(badgeID), string(owner))
}

func (r *LedgerRepository) Claims(ctx context.Context, owner domain.Address) ([]domain.BadgeClaim, error) {
	rows, err := r.queries.ListBadgeClaimsByOwner(ctx, string(owner))
	if err != nil {
		return nil, err
	}
	out := make([]domain.BadgeClaim, len(rows))
	for i, c := range rows {
		out[i] = domain.BadgeClaim{
			BadgeID:   uint64(c.BadgeID),
			Owner:     domain.Address(c.Owner),
			ClaimedAt: fromUnix(c.ClaimedAt),
		}
	}
	return out, nil
}

func (r *LedgerRepository) IsAllowed(ctx context.Context, handle domain.Handle, account domain.Address) (bool, error) {
	return r.queries.ACLExists(ctx, handle[:], string(account))
}

func (r *LedgerRepository) Events(ctx context.Context, afterSeq uint64, limit int) ([]domain.Event, error) {
	rows, err := r.queries.ListEvents(ctx, int64(afterSeq), int64(limit))
	if err != nil {
		return nil, err
	}
	out := make([]domain.Event, len(rows))
	for i, e := range rows {
		out[i] = domain.Event{
			Seq:          uint64(e.Seq),
			Kind:         domain.EventKind(e.Kind),
			Owner:        domain.Address(e.Owner),
			SubmissionID: uint64(e.SubmissionID),
			ResultHash:   toHash(e.ResultHash),
			ResultRef:    e.ResultRef,
			PublicScore:  uint32(e.PublicScore),
			BadgeID:      uint64(e.BadgeID),
			Timestamp:    fromUnix(e.Timestamp),
		}
	}
	return out, nil
}

func (r *LedgerRepository) Receipt(ctx context.Context, txID domain.Hash) (*domain.Receipt, error) {
	return receipt(ctx, r.queries, txID)
}

func (t *LedgerTx) Aggregate(ctx context.Context, owner domain.Address) (*domain.Aggregate, error) {
	return aggregate(ctx, t.q, owner)
}

func (t *LedgerTx) PutAggregate(ctx context.Context, a domain.Aggregate) error {
	return t.q.UpsertAggregate(ctx, db.Aggregate{
		Owner:          string(a.Owner),
		EncryptedTotal: a.EncryptedTotal[:],
		UpdatedAt:      a.UpdatedAt.Unix(),
	})
}

func (t *LedgerTx) NextSubmissionID(ctx context.Context) (uint64, error) {
	id, err := t.q.NextSubmissionID(ctx)
	return uint64(id), err
}

func (t *LedgerTx) InsertSubmission(ctx context.Context, s domain.Submission) error {
	return t.q.InsertSubmission(ctx, db.Submission{
		ID:             int64(s.ID),
		Owner:          string(s.Owner),
		ResultHash:     s.ResultHash[:],
		ResultRef:      s.ResultRef,
		PublicScore:    int64(s.PublicScore),
		EncryptedScore: s.EncryptedScore[:],
		SubmittedAt:    s.SubmittedAt.Unix(),
	})
}

func (t *LedgerTx) Stats(ctx context.Context, owner domain.Address) (domain.PublicStats, error) {
	return stats(ctx, t.q, owner)
}

func (t *LedgerTx) PutStats(ctx context.Context, s domain.PublicStats) error {
	return t.q.UpsertPublicStats(ctx, db.PublicStat{
		Owner:                string(s.Owner),
		GamesPlayed:          int64(s.GamesPlayed),
		TotalPublicScore:     int64(s.TotalPublicScore),
		MaxSinglePublicScore: int64(s.MaxSinglePublicScore),
		LastPlayedAt:         toUnix(s.LastPlayedAt),
	})
}

func (t *LedgerTx) IsClaimed(ctx context.Context, badgeID uint64, owner domain.Address) (bool, error) {
	return t.q.BadgeClaimExists(ctx, int64(badgeID), string(owner))
}

func (t *LedgerTx) InsertClaim(ctx context.Context, c domain.BadgeClaim) error {
	return t.q.InsertBadgeClaim(ctx, db.BadgeClaim{
		BadgeID:   int64(c.BadgeID),
		Owner:     string(c.Owner),
		ClaimedAt: c.ClaimedAt.Unix(),
	})
}

func (t *LedgerTx) Allow(ctx context.Context, handle domain.Handle, accounts ...domain.Address) error {
	for _, acct := range accounts {
		if err := t.q.GrantACL(ctx, handle[:], string(acct)); err != nil {
			return fmt.Errorf("failed to grant %s on %s: %w", acct, handle, err)
		}
	}
	return nil
}

func (t *LedgerTx) AppendEvent(ctx context.Context, e domain.Event) (uint64, error) {
	var resultHash []byte
	if e.Kind == domain.EventSubmission {
		resultHash = e.ResultHash[:]
	}
	seq, err := t.q.InsertEvent(ctx, db.Event{
		Kind:         string(e.Kind),
		Owner:        string(e.Owner),
		SubmissionID: int64(e.SubmissionID),
		ResultHash:   resultHash,
		ResultRef:    e.ResultRef,
		PublicScore:  int64(e.PublicScore),
		BadgeID:      int64(e.BadgeID),
		Timestamp:    e.Timestamp.Unix(),
	})
	return uint64(seq), err
}

func (t *LedgerTx) Receipt(ctx context.Context, txID domain.Hash) (*domain.Receipt, error) {
	return receipt(ctx, t.q, txID)
}

func (t *LedgerTx) InsertReceipt(ctx context.Context, r domain.Receipt) error {
	return t.q.InsertReceipt(ctx, db.Receipt{
		TxID:         r.TxID[:],
		Kind:         r.Kind,
		Sender:       string(r.From),
		SubmissionID: int64(r.SubmissionID),
		BadgeID:      int64(r.BadgeID),
		ConfirmedAt:  r.ConfirmedAt.Unix(),
	})
}

func aggregate(ctx context.Context, q *db.Queries, owner domain.Address) (*domain.Aggregate, error) {
	row, err := q.GetAggregate(ctx, string(owner))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &domain.Aggregate{
		Owner:          domain.Address(row.Owner),
		EncryptedTotal: toHandle(row.EncryptedTotal),
		UpdatedAt:      fromUnix(row.UpdatedAt),
	}, nil
}

func stats(ctx context.Context, q *db.Queries, owner domain.Address) (domain.PublicStats, error) {
	row, err := q.GetPublicStats(ctx, string(owner))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PublicStats{Owner: owner}, nil
	}
	if err != nil {
		return domain.PublicStats{}, err
	}
	return domain.PublicStats{
		Owner:                domain.Address(row.Owner),
		GamesPlayed:          uint64(row.GamesPlayed),
		TotalPublicScore:     uint64(row.TotalPublicScore),
		MaxSinglePublicScore: uint32(row.MaxSinglePublicScore),
		LastPlayedAt:         fromUnix(row.LastPlayedAt),
	}, nil
}

func receipt(ctx context.Context, q *db.Queries, txID domain.Hash) (*domain.Receipt, error) {
	row, err := q.GetReceipt(ctx, txID[:])
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &domain.Receipt{
		TxID:         toHash(row.TxID),
		Kind:         row.Kind,
		From:         domain.Address(row.Sender),
		SubmissionID: uint64(row.SubmissionID),
		BadgeID:      uint64(row.BadgeID),
		ConfirmedAt:  fromUnix(row.ConfirmedAt),
	}, nil
}

func toHandle(b []byte) domain.Handle {
	var h domain.Handle
	copy(h[:], b)
	return h
}

func toHash(b []byte) domain.Hash {
	var h domain.Hash
	copy(h[:], b)
	return h
}

// zero stands for "never", not the Unix epoch
func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
