package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockcart/internal/app"
)

const (
	envHTTPAddr    = "STOCKCART_HTTP_ADDR"
	envGRPCAddr    = "STOCKCART_GRPC_ADDR"
	envMetricsAddr = "STOCKCART_METRICS_ADDR"
	envLogLevel    = "STOCKCART_LOG_LEVEL"

	envStorageDriver       = "STOCKCART_STORAGE_DRIVER"
	envPostgresDSN         = "STOCKCART_POSTGRES_DSN"
	envPostgresAutoMigrate = "STOCKCART_POSTGRES_AUTO_MIGRATE"
	envPostgresLockTimeout = "STOCKCART_POSTGRES_LOCK_TIMEOUT"

	envRedisAddr    = "STOCKCART_REDIS_ADDR"
	envCartCacheTTL = "STOCKCART_CART_CACHE_TTL"

	envKafkaBrokers       = "KAFKA_BROKERS"
	envKafkaConsumerGroup = "STOCKCART_KAFKA_CONSUMER_GROUP"

	envCurrency       = "STOCKCART_CURRENCY"
	envRequestTimeout = "STOCKCART_REQUEST_TIMEOUT"
	envIdempotencyTTL = "STOCKCART_IDEMPOTENCY_TTL"

	envCheckoutMaxAttempts     = "STOCKCART_CHECKOUT_MAX_ATTEMPTS"
	envCheckoutRetryDelay      = "STOCKCART_CHECKOUT_RETRY_DELAY"
	envCheckoutBreakerFailures = "STOCKCART_CHECKOUT_BREAKER_FAILURES"
	envCheckoutBreakerTimeout  = "STOCKCART_CHECKOUT_BREAKER_TIMEOUT"

	envOutboxPollInterval = "STOCKCART_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize    = "STOCKCART_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts  = "STOCKCART_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay   = "STOCKCART_OUTBOX_RETRY_DELAY"

	envIdempotencyCleanupInterval  = "STOCKCART_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "STOCKCART_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
)

type envLookup func(key string) (string, bool)

func positiveInt(v int) bool                   { return v > 0 }
func positiveDuration(v time.Duration) bool    { return v > 0 }
func nonNegativeDuration(v time.Duration) bool { return v >= 0 }

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не роняют запуск: остаётся значение по умолчанию,
// а причина возвращается предупреждением.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v, using default %t", key, err, *dst))
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, positiveInt, "must be > 0")
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v, using default %d", key, err, *dst))
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v, using default %s", key, err, *dst))
			return
		}
		*dst = parsed
	}

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)

	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = app.StorageDriver(strings.ToLower(strings.TrimSpace(v)))
	}
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	duration(envPostgresLockTimeout, &cfg.PostgresLockTimeout, positiveDuration, "must be > 0")

	str(envRedisAddr, &cfg.RedisAddr)
	duration(envCartCacheTTL, &cfg.CartCacheTTL, positiveDuration, "must be > 0")

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaConsumerGroup, &cfg.KafkaConsumerGroup)

	if v, ok := lookup(envCurrency); ok && strings.TrimSpace(v) != "" {
		cfg.Currency = strings.ToUpper(strings.TrimSpace(v))
	}
	duration(envRequestTimeout, &cfg.RequestTimeout, positiveDuration, "must be > 0")
	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")

	integer(envCheckoutMaxAttempts, &cfg.CheckoutMaxAttempts)
	duration(envCheckoutRetryDelay, &cfg.CheckoutRetryDelay, nonNegativeDuration, "must be >= 0")
	integer(envCheckoutBreakerFailures, &cfg.CheckoutBreakerFailures)
	duration(envCheckoutBreakerTimeout, &cfg.CheckoutBreakerTimeout, positiveDuration, "must be > 0")

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize)
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")

	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)

	return cfg, warnings
}

// readLogLevel читает уровень логирования; по умолчанию info.
func readLogLevel(lookup envLookup) (log.Level, string) {
	v, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(v) == "" {
		return log.InfoLevel, ""
	}
	level, err := log.ParseLevel(strings.TrimSpace(v))
	if err != nil {
		return log.InfoLevel, fmt.Sprintf("%s: %v, using info", envLogLevel, err)
	}
	return level, ""
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("%d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("%s %s", value, rule)
	}
	return value, nil
}
