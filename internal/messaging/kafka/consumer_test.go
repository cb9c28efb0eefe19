package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

type mockConsumerGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeFn   func() error
}

func (m *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, topics, handler)
	}
	return nil
}

func (m *mockConsumerGroup) Errors() <-chan error {
	return m.errorsCh
}

func (m *mockConsumerGroup) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	if m.errorsCh != nil {
		close(m.errorsCh)
	}
	return nil
}

func (m *mockConsumerGroup) Pause(map[string][]int32)  {}
func (m *mockConsumerGroup) Resume(map[string][]int32) {}
func (m *mockConsumerGroup) PauseAll()                 {}
func (m *mockConsumerGroup) ResumeAll()                {}

type mockSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (m *mockSession) Claims() map[string][]int32               { return nil }
func (m *mockSession) MemberID() string                         { return "member" }
func (m *mockSession) GenerationID() int32                      { return 1 }
func (m *mockSession) MarkOffset(string, int32, int64, string)  {}
func (m *mockSession) Commit()                                  {}
func (m *mockSession) ResetOffset(string, int32, int64, string) {}
func (m *mockSession) Context() context.Context                 { return m.ctx }
func (m *mockSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	m.marked = append(m.marked, msg)
}

type mockClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (m *mockClaim) Topic() string                            { return m.topic }
func (m *mockClaim) Partition() int32                         { return m.partition }
func (m *mockClaim) InitialOffset() int64                     { return 0 }
func (m *mockClaim) HighWaterMarkOffset() int64               { return 0 }
func (m *mockClaim) Messages() <-chan *sarama.ConsumerMessage { return m.messages }

func newTestConsumer(handler MessageHandler, dlq *Producer, maxRetries int) *Consumer {
	return newConsumer(nil, []string{TopicStockReplenished}, handler, ConsumerOptions{
		Logger:      log.WithField("test", "consumer"),
		DLQProducer: dlq,
		MaxRetries:  maxRetries,
	})
}

func TestNewConsumerErrors(t *testing.T) {
	handler := func(context.Context, *sarama.ConsumerMessage) error { return nil }
	if _, err := NewConsumer([]string{"invalid-broker:9092"}, "group", []string{"topic"}, handler, ConsumerOptions{}); err == nil {
		t.Fatal("expected new consumer error")
	}
}

func TestNewConsumerDefaults(t *testing.T) {
	consumer := newConsumer(nil, nil, nil, ConsumerOptions{RetryDelay: -time.Second})
	if consumer.maxRetries != 3 || consumer.retryDelay != 0 || consumer.dlqTopic != TopicDeadLetterQueue {
		t.Fatalf("unexpected defaults: retries=%d delay=%v dlq=%s", consumer.maxRetries, consumer.retryDelay, consumer.dlqTopic)
	}
	if consumer.logger == nil {
		t.Fatal("expected default logger")
	}
}

func TestConsumerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumeCalls := 0
	errorsCh := make(chan error, 1)
	group := &mockConsumerGroup{
		errorsCh: errorsCh,
		consumeFn: func(_ context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
			consumeCalls++
			cancel()
			return nil
		},
		closeFn: func() error {
			close(errorsCh)
			return nil
		},
	}

	consumer := newConsumer(group, []string{"topic-a"}, func(context.Context, *sarama.ConsumerMessage) error { return nil }, ConsumerOptions{
		Logger: log.WithField("test", "consumer"),
	})

	errorsCh <- errors.New("background error")
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := consumer.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if consumeCalls == 0 {
		t.Fatal("expected consume call")
	}
}

func TestConsumerStopError(t *testing.T) {
	errorsCh := make(chan error)
	group := &mockConsumerGroup{errorsCh: errorsCh, closeFn: func() error {
		close(errorsCh)
		return errors.New("close failed")
	}}
	consumer := &Consumer{consumer: group, logger: log.WithField("test", "stop")}
	if err := consumer.Stop(); err == nil {
		t.Fatal("expected stop error")
	}
}

func TestConsumerSetupCleanup(t *testing.T) {
	consumer := &Consumer{}
	if err := consumer.Setup(nil); err != nil {
		t.Fatalf("setup should return nil: %v", err)
	}
	if err := consumer.Cleanup(nil); err != nil {
		t.Fatalf("cleanup should return nil: %v", err)
	}
}

func TestConsumeClaim(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := newTestConsumer(func(context.Context, *sarama.ConsumerMessage) error { return nil }, nil, 1)

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", partition: 0, messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "topic", Partition: 0, Offset: 1, Key: []byte("k"), Value: []byte("v")}
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(session.marked) != 1 {
		t.Fatalf("expected one marked message, got %d", len(session.marked))
	}
}

func TestConsumeClaimFailedHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := newTestConsumer(func(context.Context, *sarama.ConsumerMessage) error { return errors.New("failed") }, nil, 1)

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", partition: 0, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "topic", Partition: 0, Offset: 1, Key: []byte("k"), Value: []byte("v")}
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(session.marked) != 0 {
		t.Fatalf("failed message should not be marked, got %d", len(session.marked))
	}
}

func TestHandleMessageWithRetry(t *testing.T) {
	msg := &sarama.ConsumerMessage{Topic: "topic", Key: []byte("key"), Value: []byte(`{"a":1}`)}

	t.Run("success", func(t *testing.T) {
		consumer := newTestConsumer(func(context.Context, *sarama.ConsumerMessage) error { return nil }, nil, 2)
		if err := consumer.handleMessageWithRetry(context.Background(), msg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("retry then success", func(t *testing.T) {
		attempts := 0
		consumer := newTestConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary")
			}
			return nil
		}, nil, 3)
		if err := consumer.handleMessageWithRetry(context.Background(), msg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 3 {
			t.Fatalf("expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("retry count from header", func(t *testing.T) {
		retryingMessage := &sarama.ConsumerMessage{
			Topic:   "topic",
			Key:     []byte("key"),
			Value:   []byte("{}"),
			Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("1")}},
		}
		attempts := 0
		consumer := newTestConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			return errors.New("temporary")
		}, nil, 3)
		if err := consumer.handleMessageWithRetry(context.Background(), retryingMessage); err == nil {
			t.Fatal("expected retry error")
		}
		if attempts != 2 {
			t.Fatalf("expected 2 in-process attempts, got %d", attempts)
		}
	})

	t.Run("poison message is not retried", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageAndSucceed()
		attempts := 0
		consumer := newTestConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			return ErrPoisonMessage
		}, NewProducerFromSync(mockProducer, nil), 5)
		if err := consumer.handleMessageWithRetry(context.Background(), msg); err != nil {
			t.Fatalf("unexpected error after dlq publish: %v", err)
		}
		if attempts != 1 {
			t.Fatalf("expected a single attempt, got %d", attempts)
		}
		if err := mockProducer.Close(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("max retries with dlq failure", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
		consumer := newTestConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			return errors.New("permanent")
		}, NewProducerFromSync(mockProducer, nil), 2)
		if err := consumer.handleMessageWithRetry(context.Background(), msg); err == nil {
			t.Fatal("expected dlq failure")
		}
		if err := mockProducer.Close(); err != nil {
			t.Fatal(err)
		}
	})
}

func TestGetRetryCount(t *testing.T) {
	consumer := &Consumer{}

	msg := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("5")}}}
	if got := consumer.getRetryCount(msg); got != 5 {
		t.Fatalf("unexpected retry count: %d", got)
	}
	msgInvalid := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("bad")}}}
	if got := consumer.getRetryCount(msgInvalid); got != 0 {
		t.Fatalf("invalid retry count should fallback to 0, got %d", got)
	}
}

func TestSendToDLQ(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	var sent *sarama.ProducerMessage
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		sent = msg
		return nil
	})
	consumer := newTestConsumer(nil, NewProducerFromSync(mockProducer, nil), 3)

	msg := &sarama.ConsumerMessage{Topic: TopicStockReplenished, Partition: 1, Offset: 42, Key: []byte("k"), Value: []byte(`{"product_id":"p-1"}`)}
	if err := consumer.sendToDLQ(context.Background(), msg, 3, errors.New("boom")); err != nil {
		t.Fatalf("sendToDLQ failed: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}

	if sent.Topic != TopicDeadLetterQueue {
		t.Fatalf("unexpected dlq topic %s", sent.Topic)
	}
	value, _ := sent.Value.Encode()
	if string(value) != `{"product_id":"p-1"}` {
		t.Fatalf("dlq must keep original value, got %s", value)
	}
	headers := map[string]string{}
	for _, h := range sent.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	if headers[HeaderOriginalTopic] != TopicStockReplenished || headers[HeaderErrorMessage] != "boom" || headers[HeaderRetryCount] != "3" {
		t.Fatalf("unexpected dlq headers: %v", headers)
	}
}

func TestConsumeClaimStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := newTestConsumer(func(context.Context, *sarama.ConsumerMessage) error { return nil }, nil, 1)
	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", partition: 0, messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}

type stubRestocker struct {
	mu       sync.Mutex
	err      error
	calls    int
	lastID   string
	lastQty  int64
	lastUser string
}

func (s *stubRestocker) Restock(_ context.Context, principal domain.Principal, productID string, delta int64) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastID, s.lastQty, s.lastUser = productID, delta, principal.UserID
	if s.err != nil {
		return domain.Product{}, s.err
	}
	return domain.Product{ID: productID, Quantity: 10 + delta}, nil
}

func TestRestockHandler(t *testing.T) {
	system := domain.Principal{UserID: "system", Role: domain.RoleAdmin}
	valid := &sarama.ConsumerMessage{Value: []byte(`{"event_type":"stock.replenished","product_id":"p-1","quantity":4}`)}

	t.Run("applies restock", func(t *testing.T) {
		restocker := &stubRestocker{}
		handler := NewRestockHandler(restocker, system, nil)
		if err := handler(context.Background(), valid); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if restocker.lastID != "p-1" || restocker.lastQty != 4 || restocker.lastUser != "system" {
			t.Fatalf("unexpected restock call: %+v", restocker)
		}
	})

	t.Run("invalid payload is poison", func(t *testing.T) {
		restocker := &stubRestocker{}
		err := NewRestockHandler(restocker, system, nil)(context.Background(), &sarama.ConsumerMessage{Value: []byte(`{"product_id":"p-1","quantity":-1}`)})
		if !errors.Is(err, ErrPoisonMessage) {
			t.Fatalf("expected poison error, got %v", err)
		}
		if restocker.calls != 0 {
			t.Fatal("restocker must not be called for invalid payload")
		}
	})

	t.Run("unknown product is poison", func(t *testing.T) {
		restocker := &stubRestocker{err: domain.ErrProductNotFound}
		err := NewRestockHandler(restocker, system, nil)(context.Background(), valid)
		if !errors.Is(err, ErrPoisonMessage) || !errors.Is(err, domain.ErrProductNotFound) {
			t.Fatalf("expected poison not found error, got %v", err)
		}
	})

	t.Run("storage failure is retryable", func(t *testing.T) {
		restocker := &stubRestocker{err: domain.ErrLedgerUnavailable}
		err := NewRestockHandler(restocker, system, nil)(context.Background(), valid)
		if err == nil || errors.Is(err, ErrPoisonMessage) {
			t.Fatalf("expected retryable error, got %v", err)
		}
	})
}
