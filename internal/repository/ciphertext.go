package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"score-ledger/internal/db"
	"score-ledger/internal/domain"
)

type CiphertextRepository struct {
	queries *db.Queries
}

func NewCiphertextRepository(queries *db.Queries) *CiphertextRepository {
	return &CiphertextRepository{queries: queries}
}

func (r *CiphertextRepository) Put(ctx context.Context, handle domain.Handle, typ uint8, sealed []byte) error {
	return r.queries.InsertCiphertext(ctx, db.Ciphertext{
		Handle:    handle[:],
		Type:      int64(typ),
		Sealed:    sealed,
		CreatedAt: time.Now().Unix(),
	})
}

func (r *CiphertextRepository) Get(ctx context.Context, handle domain.Handle) (uint8, []byte, error) {
	row, err := r.queries.GetCiphertext(ctx, handle[:])
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, domain.ErrNotFound
	}
	if err != nil {
		return 0, nil, err
	}
	return uint8(row.Type), row.Sealed, nil
}
