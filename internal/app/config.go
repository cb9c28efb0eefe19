package app

import (
	"strings"
	"time"
)

// StorageDriver выбирает хранилище остатков, корзин и заказов.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresLockTimeout time.Duration

	// При пустом RedisAddr кэш корзин выключен.
	RedisAddr    string
	CartCacheTTL time.Duration

	// KafkaBrokers — адреса через запятую; пустая строка выключает outbox worker
	// и consumer пополнений.
	KafkaBrokers       string
	KafkaConsumerGroup string

	Currency       string
	RequestTimeout time.Duration
	IdempotencyTTL time.Duration

	CheckoutMaxAttempts     int
	CheckoutRetryDelay      time.Duration
	CheckoutBreakerFailures int
	CheckoutBreakerTimeout  time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает настройки для локального запуска в памяти.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresLockTimeout: 2 * time.Second,

		CartCacheTTL: 5 * time.Minute,

		KafkaConsumerGroup: "stockcart-restock",

		Currency:       "USD",
		RequestTimeout: 10 * time.Second,
		IdempotencyTTL: 24 * time.Hour,

		CheckoutMaxAttempts:     3,
		CheckoutRetryDelay:      50 * time.Millisecond,
		CheckoutBreakerFailures: 5,
		CheckoutBreakerTimeout:  10 * time.Second,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// Brokers разбирает KafkaBrokers, отбрасывая пустые элементы.
func (c Config) Brokers() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
