package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

type cartRepositoryInMemory struct {
	store *Store
}

// NewCartRepository возвращает in-memory корзины поверх Store.
// Изменения корзины сериализуются с оформлением заказа того же пользователя.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepositoryInMemory{store: store}
}

func (r *cartRepositoryInMemory) Get(ctx context.Context, userID string) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.store.cartLocked(userID), nil
}

func (r *cartRepositoryInMemory) AddItem(ctx context.Context, userID string, item domain.CartItem) (domain.Cart, error) {
	if !domain.ValidItemQuantity(item.Quantity) {
		return domain.Cart{}, domain.ErrInvalidQuantity
	}
	var result domain.Cart
	err := r.store.withLock(ctx, cartLockKey(userID), func() error {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()

		now := r.store.now()
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if item.AddedAt.IsZero() {
			item.AddedAt = now
		}
		cart := r.store.cartLocked(userID)
		if _, err := cart.Merge(item); err != nil {
			return err
		}
		cart.UpdatedAt = now
		r.store.carts[userID] = cart
		result = cart.Clone()
		return nil
	})
	return result, err
}

func (r *cartRepositoryInMemory) RemoveItem(ctx context.Context, userID, itemID string) (domain.Cart, error) {
	var result domain.Cart
	err := r.store.withLock(ctx, cartLockKey(userID), func() error {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()

		cart := r.store.cartLocked(userID)
		if !cart.Remove(itemID) {
			return domain.ErrCartItemNotFound
		}
		cart.UpdatedAt = r.store.now()
		r.store.carts[userID] = cart
		result = cart.Clone()
		return nil
	})
	return result, err
}

func (r *cartRepositoryInMemory) Clear(ctx context.Context, userID string) error {
	return r.store.withLock(ctx, cartLockKey(userID), func() error {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()

		r.store.clearCartLocked(userID)
		return nil
	})
}

// cartLocked возвращает копию корзины; вызывается под s.mu.
func (s *Store) cartLocked(userID string) domain.Cart {
	cart, ok := s.carts[userID]
	if !ok {
		return domain.Cart{UserID: userID, Items: []domain.CartItem{}}
	}
	return cart.Clone()
}

func (s *Store) clearCartLocked(userID string) {
	if _, ok := s.carts[userID]; !ok {
		return
	}
	s.carts[userID] = domain.Cart{UserID: userID, Items: []domain.CartItem{}, UpdatedAt: s.now()}
}

var _ domain.CartRepository = (*cartRepositoryInMemory)(nil)
