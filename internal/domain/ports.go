package domain

import (
	"context"
	"time"
)

// StockLedger — единственный источник правды об остатках товаров.
type StockLedger interface {
	// Get возвращает текущий остаток товара.
	Get(ctx context.Context, productID string) (int64, error)
	// TryDecrement атомарно списывает amount, если остатка хватает.
	// Возвращает ErrInsufficientStock или ErrProductNotFound.
	TryDecrement(ctx context.Context, productID string, amount int64) error
	// Snapshot читает остатки без блокировок; подходит только для подсказок в UI.
	Snapshot(ctx context.Context, productIDs []string) (LedgerSnapshot, error)
}

// CatalogRepository хранит товары каталога.
type CatalogRepository interface {
	List(ctx context.Context, search string, offset, limit int) ([]Product, int, error)
	Get(ctx context.Context, productID string) (Product, error)
	Create(ctx context.Context, product Product) (Product, error)
	// Update меняет название и цену; остаток не трогает.
	Update(ctx context.Context, product Product) (Product, error)
	// Restock добавляет выпущенные единицы к остатку.
	Restock(ctx context.Context, productID string, delta int64) (Product, error)
	Delete(ctx context.Context, productID string) error
}

// CartRepository хранит корзины пользователей.
type CartRepository interface {
	// Get возвращает пустую корзину, если пользователь ещё ничего не добавлял.
	Get(ctx context.Context, userID string) (Cart, error)
	// AddItem сливает позицию с существующей по тому же товару.
	AddItem(ctx context.Context, userID string, item CartItem) (Cart, error)
	RemoveItem(ctx context.Context, userID, itemID string) (Cart, error)
	Clear(ctx context.Context, userID string) error
}

// OrderRepository читает историю заказов. Заказы создаются только в CheckoutTx.
type OrderRepository interface {
	Get(ctx context.Context, orderID string) (Order, error)
	// ListByUser возвращает заказы пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]Order, int, error)
}

// UnitOfWork выполняет fn в одной транзакции. Ошибка из fn откатывает
// все изменения, сделанные через tx.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx CheckoutTx) error) error
}

// CheckoutTx — операции оформления внутри одной транзакции.
// Порядок блокировок: сначала корзина пользователя, затем товары по возрастанию ID.
type CheckoutTx interface {
	LoadCartForUpdate(ctx context.Context, userID string) (Cart, error)
	// LockProducts блокирует товары в порядке возрастания ID и возвращает
	// найденные. Отсутствующие товары в результат не попадают.
	LockProducts(ctx context.Context, productIDs []string) (map[string]Product, error)
	TryDecrement(ctx context.Context, productID string, amount int64) error
	InsertOrder(ctx context.Context, order Order) error
	ClearCart(ctx context.Context, userID string) error
	EnqueueOutbox(ctx context.Context, msg OutboxMessage) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository отдаёт накопленные события на публикацию.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Release удаляет ключ в статусе processing, чтобы клиент мог повторить
	// запрос после временной ошибки. Завершённые записи не трогает.
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
