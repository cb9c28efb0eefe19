// Package cart изменяет корзины пользователей и отдаёт их с кэшированием.
package cart

import (
	"context"
	"errors"
	"fmt"
	"hash/maphash"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/stockcart/internal/cache"
	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

const (
	invalidateTimeout = time.Second
	sharedReadTimeout = 5 * time.Second
	versionShards     = 256
)

// Service управляет корзинами. Остатки здесь не проверяются: корзина
// может законно хранить больше, чем есть на складе.
type Service struct {
	carts   domain.CartRepository
	catalog domain.CatalogRepository
	cache   cache.CartCache
	group   singleflight.Group
	logger  *log.Entry

	// versions растут при каждой инвалидации. Чтение кладёт корзину в кэш,
	// только если версия пользователя не сдвинулась с начала чтения.
	seed     maphash.Seed
	versions [versionShards]atomic.Uint64
}

// NewService создаёт сервис корзин. cartCache может быть nil.
func NewService(carts domain.CartRepository, catalog domain.CatalogRepository, cartCache cache.CartCache, logger *log.Entry) *Service {
	if cartCache == nil {
		cartCache = cache.Nop{}
	}
	if logger == nil {
		logger = log.WithField("component", "cart")
	}
	return &Service{
		carts:   carts,
		catalog: catalog,
		cache:   cartCache,
		logger:  logger,
		seed:    maphash.MakeSeed(),
	}
}

func (s *Service) version(userID string) *atomic.Uint64 {
	return &s.versions[maphash.String(s.seed, userID)%versionShards]
}

// GetCart возвращает корзину пользователя; пустую, если её ещё нет.
// Одновременные промахи кэша по одному пользователю схлопываются в одно чтение.
// Общее чтение не зависит от отмены контекста первого вызывающего.
func (s *Service) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if userID == "" {
		return domain.Cart{}, domain.ErrUserRequired
	}
	ch := s.group.DoChan(userID, func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedReadTimeout)
		defer cancel()
		return s.readThrough(readCtx, userID)
	})

	select {
	case <-ctx.Done():
		return domain.Cart{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.Cart{}, res.Err
		}
		return res.Val.(domain.Cart).Clone(), nil
	}
}

func (s *Service) readThrough(ctx context.Context, userID string) (domain.Cart, error) {
	cached, err := s.cache.Get(ctx, userID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.WithError(err).WithField("user_id", userID).Warn("cart cache get failed")
	}

	version := s.version(userID)
	seen := version.Load()
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	if cart.IsEmpty() || version.Load() != seen {
		return cart, nil
	}

	if err := s.cache.Set(ctx, cart); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("cart cache set failed")
		return cart, nil
	}
	// Мутация могла зафиксироваться между проверкой версии и Set.
	if version.Load() != seen {
		if err := s.cache.Delete(ctx, userID); err != nil {
			s.logger.WithError(err).WithField("user_id", userID).Warn("stale cart cache delete failed")
		}
	}
	return cart, nil
}

// AddItem добавляет товар в корзину, сливая с существующей позицией.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int64) (domain.Cart, error) {
	if userID == "" {
		return domain.Cart{}, domain.ErrUserRequired
	}
	if !domain.ValidItemQuantity(quantity) {
		return domain.Cart{}, domain.ErrInvalidQuantity
	}
	if productID == "" {
		return domain.Cart{}, fmt.Errorf("%w: product_id is required", domain.ErrInvalidArgument)
	}
	if _, err := s.catalog.Get(ctx, productID); err != nil {
		return domain.Cart{}, err
	}

	cart, err := s.carts.AddItem(ctx, userID, domain.CartItem{ProductID: productID, Quantity: quantity})
	if err != nil {
		return domain.Cart{}, err
	}
	s.Invalidate(ctx, userID)
	s.logger.WithFields(log.Fields{
		"user_id":    userID,
		"product_id": productID,
		"quantity":   quantity,
	}).Debug("cart item added")
	return cart, nil
}

// RemoveItem удаляет позицию корзины по её ID.
func (s *Service) RemoveItem(ctx context.Context, userID, itemID string) (domain.Cart, error) {
	if userID == "" {
		return domain.Cart{}, domain.ErrUserRequired
	}
	cart, err := s.carts.RemoveItem(ctx, userID, itemID)
	if err != nil {
		return domain.Cart{}, err
	}
	s.Invalidate(ctx, userID)
	return cart, nil
}

// Clear очищает корзину.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.ErrUserRequired
	}
	if err := s.carts.Clear(ctx, userID); err != nil {
		return err
	}
	s.Invalidate(ctx, userID)
	return nil
}

// Invalidate сбрасывает кэш корзины. Ошибка кэша только логируется:
// запись уже зафиксирована в хранилище, а TTL ограничивает устаревание.
func (s *Service) Invalidate(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()
	s.version(userID).Add(1)
	s.group.Forget(userID)
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("cart cache invalidate failed")
		return err
	}
	return nil
}
