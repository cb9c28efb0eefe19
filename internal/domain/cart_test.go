package domain

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestCartMergeSumsQuantities(t *testing.T) {
	var cart Cart
	first, err := cart.Merge(CartItem{ID: "i1", ProductID: "a", Quantity: 2})
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	second, err := cart.Merge(CartItem{ID: "i2", ProductID: "a", Quantity: 2})
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}

	if len(cart.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(cart.Items))
	}
	if cart.Items[0].Quantity != 4 {
		t.Fatalf("quantity = %d, want 4", cart.Items[0].Quantity)
	}
	if first.ID != "i1" || second.ID != "i1" {
		t.Fatalf("merged item must keep the original id, got %q and %q", first.ID, second.ID)
	}
}

func TestCartMergeRejectsQuantityAboveLimit(t *testing.T) {
	cart := Cart{Items: []CartItem{{ID: "i1", ProductID: "a", Quantity: MaxItemQuantity}}}

	tests := []struct {
		name string
		item CartItem
	}{
		{name: "sum above limit", item: CartItem{ProductID: "a", Quantity: 1}},
		{name: "sum would wrap int64", item: CartItem{ProductID: "a", Quantity: math.MaxInt64}},
		{name: "new line above limit", item: CartItem{ProductID: "b", Quantity: MaxItemQuantity + 1}},
		{name: "non-positive", item: CartItem{ProductID: "b", Quantity: 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := cart.Merge(tc.item); !errors.Is(err, ErrInvalidQuantity) {
				t.Fatalf("err = %v, want ErrInvalidQuantity", err)
			}
			if len(cart.Items) != 1 || cart.Items[0].Quantity != MaxItemQuantity {
				t.Fatalf("rejected merge changed the cart: %+v", cart.Items)
			}
		})
	}

	merged, err := cart.Merge(CartItem{ProductID: "b", Quantity: MaxItemQuantity})
	if err != nil || merged.Quantity != MaxItemQuantity {
		t.Fatalf("merge at the limit: %+v, %v", merged, err)
	}
}

func TestCartRemove(t *testing.T) {
	cart := Cart{Items: []CartItem{{ID: "i1", ProductID: "a"}, {ID: "i2", ProductID: "b"}}}
	if !cart.Remove("i1") {
		t.Fatal("expected item to be removed")
	}
	if cart.Remove("missing") {
		t.Fatal("unexpected removal of unknown item")
	}
	if len(cart.Items) != 1 || cart.Items[0].ID != "i2" {
		t.Fatalf("unexpected items %+v", cart.Items)
	}
}

func TestCartProductIDsSortedAndUnique(t *testing.T) {
	cart := Cart{Items: []CartItem{
		{ID: "1", ProductID: "c"},
		{ID: "2", ProductID: "a"},
		{ID: "3", ProductID: "b"},
		{ID: "4", ProductID: "a"},
	}}
	if got, want := cart.ProductIDs(), []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ProductIDs() = %v, want %v", got, want)
	}
	sorted := cart.SortedItems()
	if sorted[0].ProductID != "a" || sorted[3].ProductID != "c" {
		t.Fatalf("SortedItems() = %+v", sorted)
	}
	if cart.Items[0].ProductID != "c" {
		t.Fatal("SortedItems must not reorder the cart")
	}
}

func TestCartCloneIsIndependent(t *testing.T) {
	cart := Cart{UserID: "u", Items: []CartItem{{ID: "1", ProductID: "a", Quantity: 1}}}
	clone := cart.Clone()
	clone.Items[0].Quantity = 10
	if cart.Items[0].Quantity != 1 {
		t.Fatal("clone shares items with the original")
	}
}

func TestNewPage(t *testing.T) {
	page := NewPage[int](nil, 0, 10, 21)
	if page.TotalPages != 3 {
		t.Fatalf("total pages = %d, want 3", page.TotalPages)
	}
	if page.Items == nil {
		t.Fatal("items must not be nil")
	}
	if NewPage([]int{}, 0, 10, 0).TotalPages != 0 {
		t.Fatal("empty result must have zero pages")
	}
}

func TestProductValidate(t *testing.T) {
	valid := Product{ID: "a", Name: "A", PriceMinor: 1, Quantity: 0}
	if errs := valid.Validate(); len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}
	invalid := Product{PriceMinor: -1, Quantity: -1}
	if errs := invalid.Validate(); len(errs) != 4 {
		t.Fatalf("errors = %v, want 4", errs)
	}
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		page, size              int
		wantPage, wantSize, off int
	}{
		{page: 0, size: 0, wantPage: 1, wantSize: DefaultPageSize, off: 0},
		{page: 3, size: 10, wantPage: 3, wantSize: 10, off: 20},
		{page: -2, size: 1000, wantPage: 1, wantSize: MaxPageSize, off: 0},
	}
	for _, tc := range tests {
		page, size, off := NormalizePage(tc.page, tc.size)
		if page != tc.wantPage || size != tc.wantSize || off != tc.off {
			t.Fatalf("NormalizePage(%d, %d) = %d, %d, %d", tc.page, tc.size, page, size, off)
		}
	}
}
