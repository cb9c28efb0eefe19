// Package orders отдаёт историю заказов пользователя.
package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

// Service читает заказы. Создаются заказы только координатором оформления.
type Service struct {
	repo domain.OrderRepository
}

// NewService создаёт сервис истории заказов.
func NewService(repo domain.OrderRepository) *Service {
	return &Service{repo: repo}
}

// ListOrders возвращает страницу заказов пользователя, новые первыми.
func (s *Service) ListOrders(ctx context.Context, userID string, page, size int) (domain.Page[domain.Order], error) {
	if userID == "" {
		return domain.Page[domain.Order]{}, domain.ErrUserRequired
	}
	page, size, offset := domain.NormalizePage(page, size)
	items, total, err := s.repo.ListByUser(ctx, userID, offset, size)
	if err != nil {
		return domain.Page[domain.Order]{}, fmt.Errorf("list orders: %w", err)
	}
	return domain.NewPage(items, page, size, total), nil
}

// GetOrder возвращает заказ владельца. Чужой заказ неотличим от отсутствующего.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (domain.Order, error) {
	if userID == "" {
		return domain.Order{}, domain.ErrUserRequired
	}
	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	if order.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}
