package domain

import (
	"math"
	"time"
)

// OrderStatus — терминальный статус заказа.
type OrderStatus string

const (
	// OrderStatusPlaced — списание остатков и создание заказа зафиксированы.
	OrderStatusPlaced OrderStatus = "PLACED"
	// OrderStatusFailed — оформление не состоялось.
	OrderStatusFailed OrderStatus = "FAILED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPlaced, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// OrderLine — снимок товара на момент оформления. Последующие правки
// каталога на исторические заказы не влияют.
type OrderLine struct {
	ProductID      string
	Name           string
	UnitPriceMinor int64
	Quantity       int64
}

// Subtotal возвращает стоимость строки. Для заказа, прошедшего
// NewPlacedOrder, переполнения не бывает.
func (l OrderLine) Subtotal() int64 {
	return l.UnitPriceMinor * l.Quantity
}

// checkedSubtotal считает стоимость строки без переполнения.
func (l OrderLine) checkedSubtotal() (int64, bool) {
	if l.UnitPriceMinor < 0 || l.Quantity < 0 {
		return 0, false
	}
	if l.Quantity != 0 && l.UnitPriceMinor > math.MaxInt64/l.Quantity {
		return 0, false
	}
	return l.UnitPriceMinor * l.Quantity, true
}

// addMinor складывает неотрицательные суммы без переполнения.
func addMinor(total, amount int64) (int64, bool) {
	if amount > math.MaxInt64-total {
		return 0, false
	}
	return total + amount, true
}

// Order неизменяем после создания.
type Order struct {
	ID         string
	UserID     string
	Status     OrderStatus
	Currency   string
	TotalMinor int64
	Lines      []OrderLine
	CreatedAt  time.Time
}

// NewPlacedOrder собирает заказ из позиций корзины и заблокированных товаров.
// Сумма считается по ценам из products, которые копируются в строки.
// Если стоимость строки или итог не помещается в int64, возвращается
// ErrOrderTotalOverflow.
func NewPlacedOrder(id, userID string, items []CartItem, products map[string]Product, now time.Time) (Order, error) {
	order := Order{
		ID:        id,
		UserID:    userID,
		Status:    OrderStatusPlaced,
		Lines:     make([]OrderLine, 0, len(items)),
		CreatedAt: now,
	}
	for _, item := range items {
		product := products[item.ProductID]
		if order.Currency == "" {
			order.Currency = product.Currency
		}
		line := OrderLine{
			ProductID:      product.ID,
			Name:           product.Name,
			UnitPriceMinor: product.PriceMinor,
			Quantity:       item.Quantity,
		}
		subtotal, ok := line.checkedSubtotal()
		if !ok {
			return Order{}, ErrOrderTotalOverflow
		}
		if order.TotalMinor, ok = addMinor(order.TotalMinor, subtotal); !ok {
			return Order{}, ErrOrderTotalOverflow
		}
		order.Lines = append(order.Lines, line)
	}
	return order, nil
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error
	if o.UserID == "" {
		errs = append(errs, ErrOrderUserRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrOrderStatusInvalid)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrOrderLinesRequired)
	}

	var calc int64
	invalidLine, overflow := false, false
	for _, line := range o.Lines {
		if line.Quantity <= 0 {
			errs = append(errs, ErrOrderLineQtyInvalid)
			invalidLine = true
		}
		if line.UnitPriceMinor < 0 {
			errs = append(errs, ErrOrderLinePriceNeg)
			invalidLine = true
		}
		subtotal, ok := line.checkedSubtotal()
		if ok {
			calc, ok = addMinor(calc, subtotal)
		}
		if !ok && line.Quantity > 0 && line.UnitPriceMinor >= 0 {
			overflow = true
		}
	}
	switch {
	case overflow:
		errs = append(errs, ErrOrderTotalOverflow)
	case !invalidLine && calc != o.TotalMinor:
		errs = append(errs, ErrOrderTotalMismatch)
	}
	return errs
}

// Clone возвращает копию заказа, не разделяющую строки.
func (o Order) Clone() Order {
	dst := o
	dst.Lines = append([]OrderLine(nil), o.Lines...)
	return dst
}
