package memory

import (
	"context"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

type stockLedgerInMemory struct {
	store *Store
}

// NewLedger возвращает журнал остатков поверх Store.
func NewLedger(store *Store) domain.StockLedger {
	return &stockLedgerInMemory{store: store}
}

func (l *stockLedgerInMemory) Get(ctx context.Context, productID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.store.mu.RLock()
	defer l.store.mu.RUnlock()

	product, ok := l.store.products[productID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	return product.Quantity, nil
}

// TryDecrement удерживает блокировку товара между чтением и записью остатка.
func (l *stockLedgerInMemory) TryDecrement(ctx context.Context, productID string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidQuantity
	}
	return l.store.withLock(ctx, productLockKey(productID), func() error {
		l.store.mu.Lock()
		defer l.store.mu.Unlock()

		product, ok := l.store.products[productID]
		if !ok {
			return domain.ErrProductNotFound
		}
		if product.Quantity < amount {
			return domain.ErrInsufficientStock
		}
		product.Quantity -= amount
		product.UpdatedAt = l.store.now()
		l.store.products[productID] = product
		return nil
	})
}

func (l *stockLedgerInMemory) Snapshot(ctx context.Context, productIDs []string) (domain.LedgerSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.store.mu.RLock()
	defer l.store.mu.RUnlock()

	snapshot := make(domain.LedgerSnapshot, len(productIDs))
	for _, id := range productIDs {
		if product, ok := l.store.products[id]; ok {
			snapshot[id] = product.Quantity
		}
	}
	return snapshot, nil
}

var _ domain.StockLedger = (*stockLedgerInMemory)(nil)
