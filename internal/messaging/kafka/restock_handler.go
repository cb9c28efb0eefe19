package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

// Restocker пополняет остаток товара.
type Restocker interface {
	Restock(ctx context.Context, principal domain.Principal, productID string, delta int64) (domain.Product, error)
}

// NewRestockHandler обрабатывает события stock.replenished. Пополнение
// удалённого товара не повторяется: такое сообщение сразу уходит в DLQ.
func NewRestockHandler(restocker Restocker, principal domain.Principal, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "restock-consumer")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParseStockReplenished(message)
		if err != nil {
			return err
		}

		product, err := restocker.Restock(ctx, principal, event.ProductID, event.Quantity)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrProductNotFound),
			errors.Is(err, domain.ErrInvalidQuantity),
			errors.Is(err, domain.ErrForbidden):
			return fmt.Errorf("%w: restock %s: %w", ErrPoisonMessage, event.ProductID, err)
		default:
			return fmt.Errorf("restock %s: %w", event.ProductID, err)
		}

		logger.WithFields(log.Fields{
			"product_id": event.ProductID,
			"delta":      event.Quantity,
			"quantity":   product.Quantity,
			"offset":     message.Offset,
		}).Info("stock replenished")
		return nil
	}
}
