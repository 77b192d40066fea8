package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"score-ledger/internal/db"
	"score-ledger/internal/domain"
)

type ContentRepository struct {
	queries *db.Queries
}

func NewContentRepository(queries *db.Queries) *ContentRepository {
	return &ContentRepository{queries: queries}
}

// Put is idempotent: the ref is derived from the body hash.
func (r *ContentRepository) Put(ctx context.Context, ref string, hash domain.Hash, body []byte) error {
	return r.queries.InsertContent(ctx, db.Content{
		Ref:       ref,
		Hash:      hash[:],
		Body:      body,
		CreatedAt: time.Now().Unix(),
	})
}

func (r *ContentRepository) Get(ctx context.Context, ref string) ([]byte, domain.Hash, error) {
	row, err := r.queries.GetContent(ctx, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Hash{}, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.Hash{}, err
	}
	return row.Body, toHash(row.Hash), nil
}
