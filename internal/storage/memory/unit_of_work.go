package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

var errLockOrder = errors.New("memory: lock order violated")

type unitOfWorkInMemory struct {
	store *Store
}

// NewUnitOfWork возвращает unit of work поверх Store. Изменения транзакции
// копятся локально и применяются к Store только при успешном завершении fn.
func NewUnitOfWork(store *Store) domain.UnitOfWork {
	return &unitOfWorkInMemory{store: store}
}

func (u *unitOfWorkInMemory) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.CheckoutTx) error) error {
	tx := &checkoutTxInMemory{
		store:      u.store,
		locked:     make(map[string]bool),
		products:   make(map[string]domain.Product),
		decrements: make(map[string]int64),
		clearCarts: make(map[string]bool),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	// Истёкший дедлайн приравнивается к откату.
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

type checkoutTxInMemory struct {
	store *Store

	releases       []func()
	cartUser       string
	locked         map[string]bool
	productsLocked bool
	products       map[string]domain.Product

	decrements map[string]int64
	orders     []domain.Order
	clearCarts map[string]bool
	outbox     []domain.OutboxMessage
}

func (tx *checkoutTxInMemory) LoadCartForUpdate(ctx context.Context, userID string) (domain.Cart, error) {
	if tx.productsLocked {
		return domain.Cart{}, fmt.Errorf("%w: cart must be locked before products", errLockOrder)
	}
	if tx.cartUser == "" {
		release, err := tx.store.locks.lock(ctx, cartLockKey(userID))
		if err != nil {
			return domain.Cart{}, err
		}
		tx.releases = append(tx.releases, release)
		tx.cartUser = userID
	} else if tx.cartUser != userID {
		return domain.Cart{}, fmt.Errorf("%w: one cart per transaction", errLockOrder)
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return tx.store.cartLocked(userID), nil
}

func (tx *checkoutTxInMemory) LockProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if tx.productsLocked {
		return nil, fmt.Errorf("%w: products are locked once per transaction", errLockOrder)
	}
	tx.productsLocked = true

	ids := append([]string(nil), productIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		if tx.locked[id] {
			continue
		}
		release, err := tx.store.locks.lock(ctx, productLockKey(id))
		if err != nil {
			return nil, err
		}
		tx.releases = append(tx.releases, release)
		tx.locked[id] = true
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := tx.store.products[id]; ok {
			tx.products[id] = product
			result[id] = product
		}
	}
	return result, nil
}

func (tx *checkoutTxInMemory) TryDecrement(ctx context.Context, productID string, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount <= 0 {
		return domain.ErrInvalidQuantity
	}
	if !tx.locked[productID] {
		return fmt.Errorf("%w: product %s is not locked", errLockOrder, productID)
	}
	product, ok := tx.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if product.Quantity-tx.decrements[productID] < amount {
		return domain.ErrInsufficientStock
	}
	tx.decrements[productID] += amount
	return nil
}

func (tx *checkoutTxInMemory) InsertOrder(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.orders = append(tx.orders, order.Clone())
	return nil
}

func (tx *checkoutTxInMemory) ClearCart(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx.cartUser != userID {
		return fmt.Errorf("%w: cart %s is not locked", errLockOrder, userID)
	}
	tx.clearCarts[userID] = true
	return nil
}

func (tx *checkoutTxInMemory) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	tx.outbox = append(tx.outbox, msg)
	return nil
}

// commit проверяет все изменения и только затем применяет их разом.
func (tx *checkoutTxInMemory) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, amount := range tx.decrements {
		product, ok := s.products[id]
		if !ok {
			return domain.ErrProductNotFound
		}
		if product.Quantity < amount {
			return domain.ErrInsufficientStock
		}
	}
	seen := make(map[string]struct{}, len(tx.orders))
	for _, order := range tx.orders {
		if _, exists := s.orders[order.ID]; exists {
			return domain.ErrOrderAlreadyExists
		}
		if _, dup := seen[order.ID]; dup {
			return domain.ErrOrderAlreadyExists
		}
		seen[order.ID] = struct{}{}
	}

	now := s.now()
	for id, amount := range tx.decrements {
		product := s.products[id]
		product.Quantity -= amount
		product.UpdatedAt = now
		s.products[id] = product
	}
	for _, order := range tx.orders {
		s.orders[order.ID] = order
	}
	for userID := range tx.clearCarts {
		s.clearCartLocked(userID)
	}
	for _, msg := range tx.outbox {
		s.enqueueOutboxLocked(msg, now)
	}
	return nil
}

// release снимает блокировки в обратном порядке.
func (tx *checkoutTxInMemory) release() {
	for i := len(tx.releases) - 1; i >= 0; i-- {
		tx.releases[i]()
	}
	tx.releases = nil
}

var _ domain.UnitOfWork = (*unitOfWorkInMemory)(nil)
