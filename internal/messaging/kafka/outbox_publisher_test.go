package kafka

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	var sent *sarama.ProducerMessage
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		sent = msg
		return nil
	})

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, log.WithField("component", "kafka-outbox-publisher-test")), "")

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "order-123",
		EventType:     domain.EventTypeOrderPlaced,
		Payload:       []byte(`{"order_id":"order-123","total_minor":500}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}

	if sent.Topic != TopicOrderEvents {
		t.Fatalf("unexpected topic %s", sent.Topic)
	}
	key, _ := sent.Key.Encode()
	if string(key) != "order-123" {
		t.Fatalf("expected aggregate id as key, got %s", key)
	}
	value, _ := sent.Value.Encode()
	envelope, err := ParseOutboxEnvelope(&sarama.ConsumerMessage{Value: value})
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if envelope.EventType != domain.EventTypeOrderPlaced || string(envelope.Payload) != `{"order_id":"order-123","total_minor":500}` {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	if len(sent.Headers) != 1 || string(sent.Headers[0].Value) != domain.EventTypeOrderPlaced {
		t.Fatalf("expected event type header, got %+v", sent.Headers)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, nil), TopicDeadLetterQueue)
	if err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-2"}); err == nil {
		t.Fatal("expected publish error")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := &OutboxTopicPublisher{}
	if err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}
