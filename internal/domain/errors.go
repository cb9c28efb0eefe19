package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidQuantity — количество позиции вне диапазона [1, MaxItemQuantity].
	ErrInvalidQuantity = errors.New("quantity must be between 1 and 1000000")
	// ErrInvalidArgument — прочие ошибки входных данных клиента.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUserRequired — не передан идентификатор пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// ErrEmptyCart — попытка оформить пустую корзину.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrStockConflict — на момент оформления остатка недостаточно хотя бы по одной позиции.
	ErrStockConflict = errors.New("stock conflict")
	// ErrInsufficientStock возвращается атомарным списанием, если остатка не хватает.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrLedgerUnavailable — временная недоступность хранилища остатков, можно повторить попытку.
	ErrLedgerUnavailable = errors.New("stock ledger unavailable")
	// ErrProductNotFound — товар отсутствует в каталоге (или удалён).
	ErrProductNotFound = errors.New("product not found")
	// ErrProductAlreadyExists — товар с таким ID уже заведён.
	ErrProductAlreadyExists = errors.New("product already exists")
	// ErrCartItemNotFound — позиции с таким ID нет в корзине пользователя.
	ErrCartItemNotFound = errors.New("cart item not found")
	// ErrOrderNotFound возвращается, если заказ не найден или принадлежит другому пользователю.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists сигнализирует о повторной вставке заказа с тем же ID.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrForbidden — операция требует роли администратора.
	ErrForbidden = errors.New("forbidden")

	// Ошибки инвариантов заказа.
	ErrOrderUserRequired   = errors.New("order user_id is required")
	ErrOrderLinesRequired  = errors.New("order must contain at least one line")
	ErrOrderLineQtyInvalid = errors.New("order line quantity must be greater than zero")
	ErrOrderLinePriceNeg   = errors.New("order line price must be non-negative")
	ErrOrderTotalMismatch  = errors.New("order total does not match lines sum")
	ErrOrderStatusInvalid  = errors.New("order status is invalid")
	ErrOrderTotalOverflow  = fmt.Errorf("%w: order total exceeds int64 minor units", ErrInvalidArgument)

	// Ошибки валидации товара.
	ErrProductIDRequired   = errors.New("product id is required")
	ErrProductNameRequired = errors.New("product name is required")
	ErrProductPriceNeg     = errors.New("product price must be non-negative")
	ErrProductQtyNeg       = errors.New("product quantity must be non-negative")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки idempotency-ключей.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// StockConflictError перечисляет позиции, которые не удалось списать,
// вместе с актуальным остатком на момент проверки.
type StockConflictError struct {
	Lines []LineVerdict
}

func (e *StockConflictError) Error() string {
	parts := make([]string, 0, len(e.Lines))
	for _, line := range e.Lines {
		parts = append(parts, fmt.Sprintf("%s: requested=%d available=%d (%s)",
			line.ProductID, line.Requested, line.Available, line.Kind))
	}
	return fmt.Sprintf("%s: %s", ErrStockConflict.Error(), strings.Join(parts, "; "))
}

func (e *StockConflictError) Unwrap() error {
	return ErrStockConflict
}

// AsStockConflict достаёт StockConflictError из цепочки ошибок.
func AsStockConflict(err error) (*StockConflictError, bool) {
	var conflict *StockConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}

// IsStockConflict проверяет, является ли ошибка конфликтом остатков.
func IsStockConflict(err error) bool {
	return errors.Is(err, ErrStockConflict)
}

// IsTransient сообщает, что операцию можно безопасно повторить.
func IsTransient(err error) bool {
	return errors.Is(err, ErrLedgerUnavailable)
}

// IsNotFound объединяет все "не найдено" для транспортного слоя.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrCartItemNotFound) ||
		errors.Is(err, ErrOrderNotFound)
}

// IsIdempotencyConflict проверяет конфликт повторного использования ключа.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
