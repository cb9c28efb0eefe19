package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
	"github.com/vladislavdragonenkov/stockcart/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/stockcart/internal/metrics"
	"github.com/vladislavdragonenkov/stockcart/internal/service/catalog"
	"github.com/vladislavdragonenkov/stockcart/internal/service/outbox"
)

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, logger.WithField("layer", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// closeKafkaProducer закрывает Kafka producer если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// newOutboxWorker публикует order.placed в топик заказов, а исчерпавшие
// попытки события отправляет в DLQ.
func newOutboxWorker(repo domain.OutboxRepository, producer *kafka.Producer, cfg Config, registerer prometheus.Registerer, logger *log.Entry) *outbox.Worker {
	return outbox.NewWorker(
		repo,
		kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithMetrics(metrics.NewOutboxMetricsWithRegisterer(registerer)),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
}

// startRestockConsumer подписывается на события пополнения склада.
// Сообщения, которые нельзя применить, уходят в DLQ через тот же producer.
func startRestockConsumer(ctx context.Context, cfg Config, restocker kafka.Restocker, dlq *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	consumerLogger := logger.WithField("layer", "restock-consumer")
	consumer, err := kafka.NewConsumer(
		cfg.Brokers(),
		cfg.KafkaConsumerGroup,
		[]string{kafka.TopicStockReplenished},
		kafka.NewRestockHandler(restocker, catalog.SystemPrincipal, consumerLogger),
		kafka.ConsumerOptions{
			Logger:      consumerLogger,
			DLQProducer: dlq,
		},
	)
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Stop()
		return nil, err
	}
	consumerLogger.WithField("topic", kafka.TopicStockReplenished).Info("restock consumer started")
	return consumer, nil
}

func stopRestockConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop restock consumer")
	}
}
