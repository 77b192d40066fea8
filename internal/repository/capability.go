package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"score-ledger/internal/db"

	"github.com/rs/zerolog"
)

// CapabilityRepository is the sqlite-backed key/value store behind the
// client's capability cache.
type CapabilityRepository struct {
	queries *db.Queries
	logger  zerolog.Logger
}

func NewCapabilityRepository(queries *db.Queries, logger zerolog.Logger) *CapabilityRepository {
	return &CapabilityRepository{queries: queries, logger: logger}
}

func (r *CapabilityRepository) Get(ctx context.Context, key string) (string, bool, error) {
	row, err := r.queries.GetCapability(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("failed to read capability")
		return "", false, err
	}
	return row.Value, true, nil
}

func (r *CapabilityRepository) Set(ctx context.Context, key, value string) error {
	return r.queries.UpsertCapability(ctx, db.Capability{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().Unix(),
	})
}

func (r *CapabilityRepository) Delete(ctx context.Context, key string) error {
	return r.queries.DeleteCapability(ctx, key)
}
