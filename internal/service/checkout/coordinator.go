// Package checkout оформляет заказ из корзины за одну транзакцию.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
	"github.com/vladislavdragonenkov/stockcart/internal/metrics"
	"github.com/vladislavdragonenkov/stockcart/internal/service/availability"
)

// CartInvalidator сбрасывает закэшированную корзину после оформления.
type CartInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// BreakerConfig настраивает circuit breaker вокруг журнала остатков.
// Размыкается только на временных ошибках; конфликты остатков его не трогают.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// DefaultBreakerConfig возвращает конфигурацию по умолчанию.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         10 * time.Second,
		HalfOpenRequests:    1,
	}
}

// OrderPlacedPayload — тело события order.placed в outbox.
type OrderPlacedPayload struct {
	OrderID    string            `json:"order_id"`
	UserID     string            `json:"user_id"`
	Currency   string            `json:"currency"`
	TotalMinor int64             `json:"total_minor"`
	Lines      []OrderPlacedLine `json:"lines"`
	PlacedAt   time.Time         `json:"placed_at"`
}

// OrderPlacedLine — строка заказа в событии.
type OrderPlacedLine struct {
	ProductID      string `json:"product_id"`
	Quantity       int64  `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

// Option настраивает Coordinator.
type Option func(*Coordinator)

// WithRetryConfig задаёт политику повторов.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Coordinator) {
		c.retry = cfg.withDefaults()
	}
}

// WithBreakerConfig задаёт параметры circuit breaker.
func WithBreakerConfig(cfg BreakerConfig) Option {
	return func(c *Coordinator) {
		c.breakerCfg = cfg
	}
}

// WithMetrics подключает метрики оформления.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithCartInvalidator подключает сброс кэша корзины.
func WithCartInvalidator(inv CartInvalidator) Option {
	return func(c *Coordinator) {
		c.invalidator = inv
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator подменяет генератор ID заказов.
func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) {
		if newID != nil {
			c.newID = newID
		}
	}
}

// Coordinator превращает корзину в заказ: проверяет остатки, списывает их,
// сохраняет заказ, очищает корзину и ставит событие в outbox атомарно.
type Coordinator struct {
	uow         domain.UnitOfWork
	retry       RetryConfig
	breakerCfg  BreakerConfig
	breaker     *gobreaker.CircuitBreaker[domain.Order]
	metrics     *metrics.CheckoutMetrics
	invalidator CartInvalidator
	logger      *log.Entry
	now         func() time.Time
	newID       func() string
}

// NewCoordinator создаёт координатор оформления заказов.
func NewCoordinator(uow domain.UnitOfWork, logger *log.Entry, opts ...Option) *Coordinator {
	if logger == nil {
		logger = log.WithField("component", "checkout")
	}
	c := &Coordinator{
		uow:        uow,
		retry:      DefaultRetryConfig(),
		breakerCfg: DefaultBreakerConfig(),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker[domain.Order](gobreaker.Settings{
		Name:        "stock-ledger",
		MaxRequests: c.breakerCfg.HalfOpenRequests,
		Timeout:     c.breakerCfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return c.breakerCfg.ConsecutiveFailures > 0 &&
				counts.ConsecutiveFailures >= c.breakerCfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.metrics.SetBreakerOpen(to == gobreaker.StateOpen)
			c.logger.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
	return c
}

// PlaceOrder оформляет заказ из корзины пользователя.
// Конфликт остатков возвращается сразу как *domain.StockConflictError;
// временные ошибки повторяются с экспоненциальной задержкой.
func (c *Coordinator) PlaceOrder(ctx context.Context, userID string) (domain.Order, error) {
	if userID == "" {
		return domain.Order{}, domain.ErrUserRequired
	}
	done := c.metrics.Started()
	order, err := c.placeWithRetry(ctx, userID)
	done(resultOf(err))

	logger := c.logger.WithField("user_id", userID)
	if err != nil {
		if conflict, ok := domain.AsStockConflict(err); ok {
			for _, line := range conflict.Lines {
				c.metrics.RecordConflictLine(string(line.Kind))
			}
			logger.WithField("lines", len(conflict.Lines)).Info("checkout rejected: stock conflict")
		} else if !errors.Is(err, domain.ErrEmptyCart) {
			logger.WithError(err).Warn("checkout failed")
		}
		return domain.Order{}, err
	}

	if c.invalidator != nil {
		if invErr := c.invalidator.Invalidate(ctx, userID); invErr != nil {
			logger.WithError(invErr).Warn("cart cache invalidation failed")
		}
	}
	logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"total_minor": order.TotalMinor,
		"lines":       len(order.Lines),
	}).Info("order placed")
	return order, nil
}

func (c *Coordinator) placeWithRetry(ctx context.Context, userID string) (domain.Order, error) {
	delay := c.retry.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		order, err := c.breaker.Execute(func() (domain.Order, error) {
			return c.placeOnce(ctx, userID)
		})
		if err == nil {
			if attempt > 1 {
				c.logger.WithFields(log.Fields{
					"user_id": userID,
					"attempt": attempt,
				}).Info("checkout succeeded after retry")
			}
			return order, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.Order{}, fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err)
		}
		if !domain.IsTransient(err) {
			return domain.Order{}, err
		}
		lastErr = err
		if attempt == c.retry.MaxAttempts {
			break
		}

		c.metrics.RecordRetry()
		c.logger.WithFields(log.Fields{
			"user_id": userID,
			"attempt": attempt,
			"delay":   delay,
			"error":   err,
		}).Warn("checkout failed with transient error, retrying")
		if sleepErr := sleepContext(ctx, delay); sleepErr != nil {
			return domain.Order{}, sleepErr
		}
		delay = c.retry.next(delay)
	}
	return domain.Order{}, fmt.Errorf("checkout failed after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

// placeOnce выполняет одну попытку оформления в транзакции.
// Корзина блокируется первой, затем товары по возрастанию ID.
func (c *Coordinator) placeOnce(ctx context.Context, userID string) (domain.Order, error) {
	var placed domain.Order
	err := c.uow.WithinTx(ctx, func(ctx context.Context, tx domain.CheckoutTx) error {
		cart, err := tx.LoadCartForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("load cart: %w", err)
		}
		if cart.IsEmpty() {
			return domain.ErrEmptyCart
		}

		products, err := tx.LockProducts(ctx, cart.ProductIDs())
		if err != nil {
			return fmt.Errorf("lock products: %w", err)
		}
		verdicts := availability.Evaluate(cart, availability.SnapshotOf(products))
		if failing := availability.Failing(verdicts); len(failing) > 0 {
			return &domain.StockConflictError{Lines: failing}
		}

		for _, item := range cart.SortedItems() {
			if err := tx.TryDecrement(ctx, item.ProductID, item.Quantity); err != nil {
				if errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrProductNotFound) {
					return conflictFor(item, products)
				}
				return fmt.Errorf("decrement %s: %w", item.ProductID, err)
			}
		}

		order, err := domain.NewPlacedOrder(c.newID(), userID, cart.Items, products, c.now())
		if err != nil {
			return err
		}
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return errors.Join(errs...)
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if err := tx.ClearCart(ctx, userID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		msg, err := orderPlacedMessage(order)
		if err != nil {
			return err
		}
		if err := tx.EnqueueOutbox(ctx, msg); err != nil {
			return fmt.Errorf("enqueue outbox: %w", err)
		}
		placed = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return placed, nil
}

// conflictFor описывает позицию, которую не удалось списать после проверки.
func conflictFor(item domain.CartItem, products map[string]domain.Product) error {
	verdict := domain.LineVerdict{
		CartItemID: item.ID,
		ProductID:  item.ProductID,
		Requested:  item.Quantity,
		Kind:       domain.VerdictRemoved,
	}
	if product, ok := products[item.ProductID]; ok {
		verdict.Available = product.Quantity
		verdict.Kind = domain.VerdictInsufficient
	}
	return &domain.StockConflictError{Lines: []domain.LineVerdict{verdict}}
}

func orderPlacedMessage(order domain.Order) (domain.OutboxMessage, error) {
	payload := OrderPlacedPayload{
		OrderID:    order.ID,
		UserID:     order.UserID,
		Currency:   order.Currency,
		TotalMinor: order.TotalMinor,
		Lines:      make([]OrderPlacedLine, 0, len(order.Lines)),
		PlacedAt:   order.CreatedAt,
	}
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, OrderPlacedLine{
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPriceMinor: line.UnitPriceMinor,
		})
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal order.placed: %w", err)
	}
	return domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   order.ID,
		EventType:     domain.EventTypeOrderPlaced,
		Payload:       data,
		CreatedAt:     order.CreatedAt,
	}, nil
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultPlaced
	case domain.IsStockConflict(err):
		return metrics.ResultConflict
	case errors.Is(err, domain.ErrEmptyCart):
		return metrics.ResultEmptyCart
	case domain.IsTransient(err):
		return metrics.ResultUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return metrics.ResultTimeout
	default:
		return metrics.ResultError
	}
}
