package app

import (
	"context"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/stockcart/internal/health"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	for _, driver := range []StorageDriver{"", StorageDriverMemory, " Memory "} {
		deps, err := initRuntimeDependencies(context.Background(), Config{
			StorageDriver: driver,
		}, log.WithField("test", "memory-storage"))
		if err != nil {
			t.Fatalf("initRuntimeDependencies(%q) failed: %v", driver, err)
		}
		assertRuntimeComplete(t, deps)
		if deps.closeFn != nil {
			t.Fatal("memory storage has nothing to close")
		}
		if check := deps.storageChecker.Check(); check.Status != healthcheck.StatusHealthy {
			t.Fatalf("expected healthy memory storage, got %+v", check)
		}
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
		PostgresDSN:   "   ",
	}, log.WithField("test", "postgres-missing-dsn"))
	if err == nil || !strings.Contains(err.Error(), "STOCKCART_POSTGRES_DSN") {
		t.Fatalf("expected missing DSN error, got %v", err)
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	if err == nil || !strings.Contains(err.Error(), `unsupported storage driver "sqlite"`) {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestCloseRuntimeDependencies(t *testing.T) {
	t.Parallel()

	logger := log.WithField("test", "close-storage")
	closeRuntimeDependencies(nil, logger)
	closeRuntimeDependencies(&runtimeDependencies{}, logger)

	closed := 0
	closeRuntimeDependencies(&runtimeDependencies{closeFn: func() error {
		closed++
		return nil
	}}, logger)
	if closed != 1 {
		t.Fatalf("expected closeFn to be called once, got %d", closed)
	}
}

func assertRuntimeComplete(t *testing.T, deps *runtimeDependencies) {
	t.Helper()

	if deps == nil {
		t.Fatal("runtime dependencies must not be nil")
	}
	if deps.catalogRepo == nil || deps.cartRepo == nil || deps.orderRepo == nil {
		t.Fatalf("repositories must be initialized: %+v", deps)
	}
	if deps.ledger == nil || deps.unitOfWork == nil {
		t.Fatalf("ledger and unit of work must be initialized: %+v", deps)
	}
	if deps.outboxRepo == nil || deps.idempotencyRepo == nil {
		t.Fatalf("outbox and idempotency repositories must be initialized: %+v", deps)
	}
	if deps.storageChecker == nil {
		t.Fatal("storage checker must be initialized")
	}
}
