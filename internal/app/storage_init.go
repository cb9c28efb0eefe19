package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/stockcart/internal/health"
	"github.com/vladislavdragonenkov/stockcart/internal/storage/memory"
	"github.com/vladislavdragonenkov/stockcart/internal/storage/postgres"
)

const storagePingTimeout = 2 * time.Second

// runtimeDependencies — репозитории выбранного хранилища.
type runtimeDependencies struct {
	catalogRepo     domain.CatalogRepository
	cartRepo        domain.CartRepository
	orderRepo       domain.OrderRepository
	ledger          domain.StockLedger
	unitOfWork      domain.UnitOfWork
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := StorageDriver(strings.ToLower(strings.TrimSpace(string(cfg.StorageDriver))))
	switch driver {
	case "", StorageDriverMemory:
		return initMemoryStorage(logger), nil
	case StorageDriverPostgres:
		return initPostgresStorage(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initMemoryStorage(logger *log.Entry) *runtimeDependencies {
	store := memory.NewStore()
	logger.WithField("storage", StorageDriverMemory).Warn("using in-memory storage, data is lost on restart")
	return &runtimeDependencies{
		catalogRepo:     memory.NewCatalogRepository(store),
		cartRepo:        memory.NewCartRepository(store),
		orderRepo:       memory.NewOrderRepository(store),
		ledger:          memory.NewLedger(store),
		unitOfWork:      memory.NewUnitOfWork(store),
		outboxRepo:      memory.NewOutboxRepository(store),
		idempotencyRepo: memory.NewIdempotencyRepository(),
		storageChecker:  healthcheck.NewPingChecker("storage", storagePingTimeout, store),
	}
}

func initPostgresStorage(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	dsn := strings.TrimSpace(cfg.PostgresDSN)
	if dsn == "" {
		return nil, fmt.Errorf("postgres storage requires STOCKCART_POSTGRES_DSN")
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	logger.WithField("storage", StorageDriverPostgres).Info("postgres storage initialized")
	return &runtimeDependencies{
		catalogRepo:     postgres.NewCatalogRepository(store),
		cartRepo:        postgres.NewCartRepository(store),
		orderRepo:       postgres.NewOrderRepository(store),
		ledger:          postgres.NewLedger(store),
		unitOfWork:      postgres.NewUnitOfWork(store, postgres.WithLockTimeout(cfg.PostgresLockTimeout)),
		outboxRepo:      postgres.NewOutboxRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		storageChecker:  healthcheck.NewPingChecker("storage", storagePingTimeout, store),
		closeFn:         store.Close,
	}, nil
}

func closeRuntimeDependencies(deps *runtimeDependencies, logger *log.Entry) {
	if deps == nil || deps.closeFn == nil {
		return
	}
	if err := deps.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
