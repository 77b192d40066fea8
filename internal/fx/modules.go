package fx

import (
	"context"
	"database/sql"
	"net/http"

	"score-ledger/internal/badge"
	"score-ledger/internal/capability"
	"score-ledger/internal/client"
	"score-ledger/internal/config"
	"score-ledger/internal/constants"
	"score-ledger/internal/coordinator"
	"score-ledger/internal/database"
	"score-ledger/internal/db"
	"score-ledger/internal/fhe"
	"score-ledger/internal/ledger"
	"score-ledger/internal/logger"
	"score-ledger/internal/repository"
	"score-ledger/internal/server"
	"score-ledger/internal/service"
	"score-ledger/internal/wallet"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

const baseLogger = `name:"base_logger"`

func ProvideLedgerDB(cfg *config.Config, logger zerolog.Logger) (*sql.DB, error) {
	return database.Open(cfg.DBPath, database.LedgerSchema, logger)
}

func ProvideQueries(sqlDB *sql.DB) *db.Queries {
	return db.New(sqlDB)
}

func ProvideCoprocessor(cfg *config.Config, ciphertexts *repository.CiphertextRepository, acl *repository.LedgerRepository, logger zerolog.Logger) (*fhe.Coprocessor, error) {
	return fhe.NewCoprocessor(cfg.GatewaySecret, ciphertexts, acl, wallet.VerifyCapability, logger)
}

func ProvideLedger(cfg *config.Config, repo *repository.LedgerRepository, coprocessor *fhe.Coprocessor, badges *badge.Evaluator, logger zerolog.Logger) *ledger.Ledger {
	return ledger.New(cfg.LedgerAddress, repo, coprocessor, badges, logger)
}

var Module = fx.Options(
	fx.Provide(fx.Annotate(logger.New, fx.ResultTags(baseLogger))),
	fx.Provide(fx.Annotate(config.Load, fx.ParamTags(baseLogger))),
	fx.Provide(fx.Annotate(func(base zerolog.Logger, cfg *config.Config) zerolog.Logger {
		return logger.WithLevel(base, cfg.LogLevel)
	}, fx.ParamTags(baseLogger))),
	fx.Provide(ProvideLedgerDB),
	fx.Provide(ProvideQueries),
	// repos
	fx.Provide(repository.NewLedgerRepository),
	fx.Provide(repository.NewCiphertextRepository),
	fx.Provide(repository.NewContentRepository),
	// ledger
	fx.Provide(ProvideCoprocessor),
	fx.Provide(badge.NewEvaluator),
	fx.Provide(ProvideLedger),
	// server
	fx.Provide(server.NewLedgerServer),
	fx.Provide(server.NewRelayerServer),
	fx.Provide(server.NewContentServer),
	fx.Provide(server.NewRouter),
)

func ProvideSigner(cfg *config.ClientConfig, confirm wallet.ConfirmFunc) (*wallet.Local, error) {
	return wallet.NewLocal(cfg.SignerKey, confirm)
}

func ProvideCapabilityStore(lc fx.Lifecycle, cfg *config.ClientConfig, logger zerolog.Logger) (capability.Store, error) {
	if cfg.CapabilityStore == "memory" {
		return capability.NewMemoryStore(constants.CapabilityCacheSize)
	}
	sqlDB, err := database.Open(cfg.CapabilityDBPath, database.ClientSchema, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return sqlDB.Close()
		},
	})
	return repository.NewCapabilityRepository(db.New(sqlDB), logger), nil
}

func ProvideCapabilityCache(cfg *config.ClientConfig, logger zerolog.Logger) *capability.Cache {
	return capability.NewCache(cfg.ChainID, cfg.CapabilityDurationDays, logger)
}

func ProvideLedgerClient(httpClient *http.Client, cfg *config.ClientConfig, logger zerolog.Logger) *client.LedgerClient {
	return client.NewLedgerClient(httpClient, cfg.LedgerURL, logger)
}

func ProvideRelayerClient(httpClient *http.Client, cfg *config.ClientConfig) *client.RelayerClient {
	return client.NewRelayerClient(httpClient, cfg.LedgerURL)
}

func ProvideContentClient(cfg *config.ClientConfig) *client.ContentClient {
	return client.NewContentClient(cfg.LedgerURL)
}

func ProvideCoordinator(
	lc fx.Lifecycle,
	cfg *config.ClientConfig,
	signer *wallet.Local,
	ledgerClient *client.LedgerClient,
	relayer *client.RelayerClient,
	capabilities *capability.Cache,
	store capability.Store,
	logger zerolog.Logger,
) *coordinator.Coordinator {
	coord := coordinator.New(cfg.ChainID, cfg.LedgerAddress, signer, coordinator.Deps{
		Ledger:       ledgerClient,
		Encryptor:    relayer,
		Decryptor:    relayer,
		Capabilities: capabilities,
		Store:        store,
	}, logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return coord.Close()
		},
	})
	return coord
}

func ProvideBadgeService(ledgerClient *client.LedgerClient, signer *wallet.Local, evaluator *badge.Evaluator, logger zerolog.Logger) *service.BadgeService {
	return service.NewBadgeService(ledgerClient, signer, evaluator, logger)
}

// ClientModule builds a client session. The caller supplies the
// wallet.ConfirmFunc used to approve capability signatures.
var ClientModule = fx.Options(
	fx.Provide(fx.Annotate(logger.NewConsole, fx.ResultTags(baseLogger))),
	fx.Provide(fx.Annotate(config.LoadClient, fx.ParamTags(baseLogger))),
	fx.Provide(fx.Annotate(func(base zerolog.Logger, cfg *config.ClientConfig) zerolog.Logger {
		return logger.WithLevel(base, cfg.LogLevel)
	}, fx.ParamTags(baseLogger))),
	fx.Provide(ProvideSigner),
	fx.Provide(ProvideCapabilityStore),
	fx.Provide(ProvideCapabilityCache),
	// clients
	fx.Provide(client.NewHTTPClient),
	fx.Provide(ProvideLedgerClient),
	fx.Provide(ProvideRelayerClient),
	fx.Provide(ProvideContentClient),
	// session
	fx.Provide(ProvideCoordinator),
	fx.Provide(badge.NewEvaluator),
	fx.Provide(service.NewSubmissionService),
	fx.Provide(ProvideBadgeService),
	fx.Provide(service.NewLeaderboardService),
)
