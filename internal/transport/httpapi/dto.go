package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

type productRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
	Currency   string `json:"currency"`
	Quantity   int64  `json:"quantity"`
}

type restockRequest struct {
	Quantity int64 `json:"quantity"`
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type productResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PriceMinor int64     `json:"price_minor"`
	Currency   string    `json:"currency"`
	Quantity   int64     `json:"quantity"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type pageResponse[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	Size       int `json:"size"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

type cartItemResponse struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Quantity  int64     `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

type cartResponse struct {
	UserID    string             `json:"user_id"`
	Items     []cartItemResponse `json:"items"`
	UpdatedAt time.Time          `json:"updated_at,omitzero"`
}

type verdictResponse struct {
	CartItemID string `json:"cart_item_id,omitempty"`
	ProductID  string `json:"product_id"`
	Requested  int64  `json:"requested"`
	Available  int64  `json:"available"`
	Verdict    string `json:"verdict"`
}

type availabilityResponse struct {
	Placeable bool              `json:"placeable"`
	Lines     []verdictResponse `json:"lines"`
}

type orderLineResponse struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	Quantity       int64  `json:"quantity"`
	SubtotalMinor  int64  `json:"subtotal_minor"`
}

type orderResponse struct {
	ID         string              `json:"id"`
	UserID     string              `json:"user_id"`
	Status     string              `json:"status"`
	Currency   string              `json:"currency"`
	TotalMinor int64               `json:"total_minor"`
	Lines      []orderLineResponse `json:"lines"`
	CreatedAt  time.Time           `json:"created_at"`
}

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Lines   []verdictResponse `json:"lines,omitempty"`
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:         p.ID,
		Name:       p.Name,
		PriceMinor: p.PriceMinor,
		Currency:   p.Currency,
		Quantity:   p.Quantity,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func toPageResponse[T, R any](page domain.Page[T], convert func(T) R) pageResponse[R] {
	items := make([]R, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, convert(item))
	}
	return pageResponse[R]{
		Items:      items,
		Page:       page.Page,
		Size:       page.Size,
		TotalItems: page.TotalItems,
		TotalPages: page.TotalPages,
	}
}

func toCartResponse(c domain.Cart) cartResponse {
	items := make([]cartItemResponse, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, cartItemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt,
		})
	}
	return cartResponse{UserID: c.UserID, Items: items, UpdatedAt: c.UpdatedAt}
}

func toVerdictResponses(verdicts []domain.LineVerdict) []verdictResponse {
	lines := make([]verdictResponse, 0, len(verdicts))
	for _, v := range verdicts {
		lines = append(lines, verdictResponse{
			CartItemID: v.CartItemID,
			ProductID:  v.ProductID,
			Requested:  v.Requested,
			Available:  v.Available,
			Verdict:    string(v.Kind),
		})
	}
	return lines
}

func toOrderResponse(o domain.Order) orderResponse {
	lines := make([]orderLineResponse, 0, len(o.Lines))
	for _, line := range o.Lines {
		lines = append(lines, orderLineResponse{
			ProductID:      line.ProductID,
			Name:           line.Name,
			UnitPriceMinor: line.UnitPriceMinor,
			Quantity:       line.Quantity,
			SubtotalMinor:  line.Subtotal(),
		})
	}
	return orderResponse{
		ID:         o.ID,
		UserID:     o.UserID,
		Status:     string(o.Status),
		Currency:   o.Currency,
		TotalMinor: o.TotalMinor,
		Lines:      lines,
		CreatedAt:  o.CreatedAt,
	}
}
