package memory_test

import (
	"context"
	"testing"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
	"github.com/vladislavdragonenkov/stockcart/internal/storage/memory"
)

func seedProduct(t *testing.T, store *memory.Store, id string, qty int64) domain.Product {
	t.Helper()
	product, err := memory.NewCatalogRepository(store).Create(context.Background(), domain.Product{
		ID:         id,
		Name:       "Product " + id,
		PriceMinor: 100,
		Currency:   "USD",
		Quantity:   qty,
	})
	if err != nil {
		t.Fatalf("seed product %s: %v", id, err)
	}
	return product
}
