package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// EventType определяет тип события
type EventType string

const (
	// EventTypeOrderPlaced публикуется после фиксации заказа.
	EventTypeOrderPlaced EventType = "order.placed"
	// EventTypeStockReplenished приходит от склада при поступлении товара.
	EventTypeStockReplenished EventType = "stock.replenished"
)

// Topics для Kafka
const (
	TopicOrderEvents      = "stockcart.order.events"
	TopicStockReplenished = "stockcart.stock.replenished"
	TopicDeadLetterQueue  = "stockcart.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// ErrPoisonMessage помечает сообщение, которое не имеет смысла повторять.
var ErrPoisonMessage = errors.New("kafka: poison message")

// OutboxEnvelope — формат события из outbox в топике заказов.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// StockReplenishedEvent — поступление товара на склад.
type StockReplenishedEvent struct {
	EventType  EventType `json:"event_type"`
	ProductID  string    `json:"product_id"`
	Quantity   int64     `json:"quantity"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewStockReplenishedEvent создает событие пополнения склада
func NewStockReplenishedEvent(productID string, quantity int64) *StockReplenishedEvent {
	return &StockReplenishedEvent{
		EventType:  EventTypeStockReplenished,
		ProductID:  productID,
		Quantity:   quantity,
		OccurredAt: time.Now().UTC(),
	}
}

// ParseStockReplenished разбирает и проверяет событие пополнения.
// Невалидное сообщение помечается ErrPoisonMessage.
func ParseStockReplenished(message *sarama.ConsumerMessage) (*StockReplenishedEvent, error) {
	var event StockReplenishedEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("%w: unmarshal stock event: %w", ErrPoisonMessage, err)
	}
	event.ProductID = strings.TrimSpace(event.ProductID)
	if event.ProductID == "" {
		return nil, fmt.Errorf("%w: product_id is required", ErrPoisonMessage)
	}
	if event.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", ErrPoisonMessage, event.Quantity)
	}
	return &event, nil
}

// ParseOutboxEnvelope парсит событие из топика заказов.
func ParseOutboxEnvelope(message *sarama.ConsumerMessage) (*OutboxEnvelope, error) {
	var envelope OutboxEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outbox envelope: %w", err)
	}
	return &envelope, nil
}
