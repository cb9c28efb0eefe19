// Package catalog отдаёт товары и позволяет администраторам их менять.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

// DefaultCurrency — валюта каталога по умолчанию.
const DefaultCurrency = "USD"

// SystemPrincipal — служебный пользователь для фоновых пополнений склада.
var SystemPrincipal = domain.Principal{UserID: "system", Role: domain.RoleAdmin}

// ProductInput — поля товара, которые задаёт администратор.
type ProductInput struct {
	ID         string
	Name       string
	PriceMinor int64
	Currency   string
	Quantity   int64
}

// Service — каталог товаров. Роль ADMIN нужна только для изменений
// и никак не влияет на проверки остатков.
type Service struct {
	repo     domain.CatalogRepository
	currency string
	logger   *log.Entry
}

// NewService создаёт сервис каталога. Все товары каталога в одной валюте.
func NewService(repo domain.CatalogRepository, currency string, logger *log.Entry) *Service {
	if currency == "" {
		currency = DefaultCurrency
	}
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	return &Service{repo: repo, currency: strings.ToUpper(currency), logger: logger}
}

// Currency возвращает валюту каталога.
func (s *Service) Currency() string {
	return s.currency
}

// ListProducts ищет товары по подстроке названия без учёта регистра.
func (s *Service) ListProducts(ctx context.Context, search string, page, size int) (domain.Page[domain.Product], error) {
	page, size, offset := domain.NormalizePage(page, size)
	items, total, err := s.repo.List(ctx, strings.TrimSpace(search), offset, size)
	if err != nil {
		return domain.Page[domain.Product]{}, fmt.Errorf("list products: %w", err)
	}
	return domain.NewPage(items, page, size, total), nil
}

// GetProduct возвращает товар по ID.
func (s *Service) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if productID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", domain.ErrInvalidArgument)
	}
	return s.repo.Get(ctx, productID)
}

// CreateProduct добавляет товар в каталог.
func (s *Service) CreateProduct(ctx context.Context, principal domain.Principal, in ProductInput) (domain.Product, error) {
	if !principal.IsAdmin() {
		return domain.Product{}, domain.ErrForbidden
	}
	product := domain.Product{
		ID:         strings.TrimSpace(in.ID),
		Name:       strings.TrimSpace(in.Name),
		PriceMinor: in.PriceMinor,
		Currency:   in.Currency,
		Quantity:   in.Quantity,
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if err := s.normalizeCurrency(&product); err != nil {
		return domain.Product{}, err
	}
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, invalid(errs)
	}

	created, err := s.repo.Create(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.logger.WithFields(log.Fields{
		"product_id": created.ID,
		"admin":      principal.UserID,
	}).Info("product created")
	return created, nil
}

// UpdateProduct меняет название и цену. Оформленные заказы хранят свои
// цены и правкой не затрагиваются; остаток меняется только через Restock.
func (s *Service) UpdateProduct(ctx context.Context, principal domain.Principal, in ProductInput) (domain.Product, error) {
	if !principal.IsAdmin() {
		return domain.Product{}, domain.ErrForbidden
	}
	product := domain.Product{
		ID:         in.ID,
		Name:       strings.TrimSpace(in.Name),
		PriceMinor: in.PriceMinor,
		Currency:   in.Currency,
	}
	if err := s.normalizeCurrency(&product); err != nil {
		return domain.Product{}, err
	}
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, invalid(errs)
	}

	updated, err := s.repo.Update(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.logger.WithFields(log.Fields{
		"product_id":  updated.ID,
		"price_minor": updated.PriceMinor,
		"admin":       principal.UserID,
	}).Info("product updated")
	return updated, nil
}

// Restock добавляет выпущенные единицы к остатку.
func (s *Service) Restock(ctx context.Context, principal domain.Principal, productID string, delta int64) (domain.Product, error) {
	if !principal.IsAdmin() {
		return domain.Product{}, domain.ErrForbidden
	}
	if delta < 1 {
		return domain.Product{}, domain.ErrInvalidQuantity
	}
	product, err := s.repo.Restock(ctx, productID, delta)
	if err != nil {
		return domain.Product{}, err
	}
	s.logger.WithFields(log.Fields{
		"product_id": productID,
		"delta":      delta,
		"quantity":   product.Quantity,
		"admin":      principal.UserID,
	}).Info("product restocked")
	return product, nil
}

// DeleteProduct убирает товар из каталога. Позиции корзин с этим товаром
// при следующей проверке получат вердикт REMOVED.
func (s *Service) DeleteProduct(ctx context.Context, principal domain.Principal, productID string) error {
	if !principal.IsAdmin() {
		return domain.ErrForbidden
	}
	if err := s.repo.Delete(ctx, productID); err != nil {
		return err
	}
	s.logger.WithFields(log.Fields{
		"product_id": productID,
		"admin":      principal.UserID,
	}).Info("product deleted")
	return nil
}

func (s *Service) normalizeCurrency(product *domain.Product) error {
	currency := strings.ToUpper(strings.TrimSpace(product.Currency))
	if currency == "" {
		currency = s.currency
	}
	if currency != s.currency {
		return fmt.Errorf("%w: catalog currency is %s, got %s", domain.ErrInvalidArgument, s.currency, currency)
	}
	product.Currency = currency
	return nil
}

func invalid(errs []error) error {
	return fmt.Errorf("%w: %w", domain.ErrInvalidArgument, errors.Join(errs...))
}
