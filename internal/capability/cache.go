// Package capability creates, caches and reuses signed decryption
// capabilities.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"score-ledger/internal/domain"
	"score-ledger/internal/fhe"

	"github.com/rs/zerolog"
)

// Store is a string key/value store. It only needs to be safe under
// sequential use.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type Signer interface {
	Address() domain.Address
	SignCapability(ctx context.Context, req domain.CapabilityRequest) (string, error)
}

type Options struct {
	// Force discards any cached capability and asks the signer again.
	Force bool
	// ChainID overrides the cache default when non-zero.
	ChainID uint64
}

type Cache struct {
	chainID      uint64
	durationDays int
	clock        func() time.Time
	keygen       func() (string, string, error)
	logger       zerolog.Logger
}

func NewCache(chainID uint64, durationDays int, logger zerolog.Logger) *Cache {
	return &Cache{
		chainID:      chainID,
		durationDays: durationDays,
		clock:        time.Now,
		keygen:       fhe.GenerateKeypair,
		logger:       logger.With().Str("component", "capability").Logger(),
	}
}

func (c *Cache) SetClock(clock func() time.Time) {
	c.clock = clock
}

// Key scopes a stored capability to the user and the exact ledger set.
func Key(user domain.Address, ledgers []domain.Address) string {
	parts := make([]string, 0, len(ledgers))
	for _, a := range domain.SortAddresses(ledgers) {
		parts = append(parts, string(a))
	}
	return "capability:" + string(user) + ":" + strings.Join(parts, ",")
}

// LoadOrSign returns a cached, unexpired capability for the signer over
// ledgers, or asks the signer for a new one and stores it. A rejected
// signature is returned as ErrCapabilitySigningRejected and not retried.
func (c *Cache) LoadOrSign(ctx context.Context, signer Signer, ledgers []domain.Address, store Store, opts Options) (*domain.DecryptionCapability, error) {
	user := signer.Address()
	key := Key(user, ledgers)
	now := c.clock()

	if !opts.Force {
		cached, err := c.load(ctx, store, key)
		if err != nil {
			return nil, err
		}
		switch {
		case cached == nil:
		case !cached.Covers(user, ledgers):
			c.logger.Debug().Str("key", key).Msg("cached capability does not match signer or ledgers")
		case cached.Expired(now):
			c.logger.Debug().Str("key", key).Time("expired_at", cached.ExpiresAt()).Msg("cached capability expired")
		default:
			c.logger.Debug().Str("key", key).Msg("reusing cached capability")
			return cached, nil
		}
	}

	if err := store.Delete(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to drop cached capability: %w", err)
	}

	pub, priv, err := c.keygen()
	if err != nil {
		return nil, err
	}
	chainID := c.chainID
	if opts.ChainID != 0 {
		chainID = opts.ChainID
	}
	req := domain.CapabilityRequest{
		ChainID:           chainID,
		UserAddress:       user,
		ContractAddresses: domain.SortAddresses(ledgers),
		PublicKey:         pub,
		StartTimestamp:    now.Unix(),
		DurationDays:      c.durationDays,
	}
	sig, err := signer.SignCapability(ctx, req)
	if err != nil {
		c.logger.Warn().Err(err).Str("user", user.String()).Msg("capability signature not obtained")
		return nil, err
	}

	capability := &domain.DecryptionCapability{
		ContractAddresses: req.ContractAddresses,
		UserAddress:       user,
		PublicKey:         pub,
		PrivateKey:        priv,
		Signature:         sig,
		StartTimestamp:    req.StartTimestamp,
		DurationDays:      req.DurationDays,
	}
	raw, err := json.Marshal(capability)
	if err != nil {
		return nil, fmt.Errorf("failed to encode capability: %w", err)
	}
	if err := store.Set(ctx, key, string(raw)); err != nil {
		return nil, fmt.Errorf("failed to store capability: %w", err)
	}

	c.logger.Info().
		Str("user", user.String()).
		Time("expires_at", capability.ExpiresAt()).
		Msg("new decryption capability signed")
	return capability, nil
}

func (c *Cache) load(ctx context.Context, store Store, key string) (*domain.DecryptionCapability, error) {
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached capability: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var capability domain.DecryptionCapability
	if err := json.Unmarshal([]byte(raw), &capability); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("discarding unreadable cached capability")
		return nil, nil
	}
	return &capability, nil
}
