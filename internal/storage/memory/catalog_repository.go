package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

type catalogRepositoryInMemory struct {
	store *Store
}

// NewCatalogRepository возвращает in-memory каталог поверх Store.
func NewCatalogRepository(store *Store) domain.CatalogRepository {
	return &catalogRepositoryInMemory{store: store}
}

// List ищет по подстроке названия без учёта регистра, сортирует по названию.
func (r *catalogRepositoryInMemory) List(ctx context.Context, search string, offset, limit int) ([]domain.Product, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	needle := strings.ToLower(strings.TrimSpace(search))

	r.store.mu.RLock()
	matched := make([]domain.Product, 0, len(r.store.products))
	for _, product := range r.store.products {
		if needle != "" && !strings.Contains(strings.ToLower(product.Name), needle) {
			continue
		}
		matched = append(matched, product)
	}
	r.store.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name != matched[j].Name {
			return matched[i].Name < matched[j].Name
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []domain.Product{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (r *catalogRepositoryInMemory) Get(ctx context.Context, productID string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	product, ok := r.store.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *catalogRepositoryInMemory) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	err := r.store.withLock(ctx, productLockKey(product.ID), func() error {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()

		if _, exists := r.store.products[product.ID]; exists {
			return domain.ErrProductAlreadyExists
		}
		now := r.store.now()
		product.CreatedAt = now
		product.UpdatedAt = now
		r.store.products[product.ID] = product
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (r *catalogRepositoryInMemory) Update(ctx context.Context, product domain.Product) (domain.Product, error) {
	var updated domain.Product
	err := r.store.withLock(ctx, productLockKey(product.ID), func() error {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()

		current, ok := r.store.products[product.ID]
		if !ok {
			return domain.ErrProductNotFound
		}
		current.Name = product.Name
		current.PriceMinor = product.PriceMinor
		current.Currency = product.Currency
		current.UpdatedAt = r.store.now()
		r.store.products[product.ID] = current
		updated = current
		return nil
	})
	return updated, err
}

func (r *catalogRepositoryInMemory) Restock(ctx context.Context, productID string, delta int64) (domain.Product, error) {
	var updated domain.Product
	err := r.store.withLock(ctx, productLockKey(productID), func() error {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()

		current, ok := r.store.products[productID]
		if !ok {
			return domain.ErrProductNotFound
		}
		if current.Quantity+delta < 0 {
			return domain.ErrInsufficientStock
		}
		current.Quantity += delta
		current.UpdatedAt = r.store.now()
		r.store.products[productID] = current
		updated = current
		return nil
	})
	return updated, err
}

func (r *catalogRepositoryInMemory) Delete(ctx context.Context, productID string) error {
	return r.store.withLock(ctx, productLockKey(productID), func() error {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()

		if _, ok := r.store.products[productID]; !ok {
			return domain.ErrProductNotFound
		}
		delete(r.store.products, productID)
		return nil
	})
}

var _ domain.CatalogRepository = (*catalogRepositoryInMemory)(nil)
