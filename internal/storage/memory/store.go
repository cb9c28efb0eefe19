package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

// Store — общее in-memory состояние, которое разделяют репозитории и unit of work.
// mu защищает карты; логические блокировки (корзина, товар) берутся через locks
// и удерживаются на всё время операции.
type Store struct {
	mu       sync.RWMutex
	products map[string]domain.Product
	carts    map[string]domain.Cart
	orders   map[string]domain.Order
	outbox   map[string]*outboxRecord
	seq      int64

	locks *keyedLocks
	now   func() time.Time
}

// NewStore создаёт пустое хранилище для локальной разработки и тестов.
func NewStore() *Store {
	return &Store{
		products: make(map[string]domain.Product),
		carts:    make(map[string]domain.Cart),
		orders:   make(map[string]domain.Order),
		outbox:   make(map[string]*outboxRecord),
		locks:    newKeyedLocks(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ping всегда успешен; нужен для health-check наравне с postgres.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func cartLockKey(userID string) string {
	return "cart:" + userID
}

func productLockKey(productID string) string {
	return "product:" + productID
}

// withLock выполняет fn, удерживая логическую блокировку key.
func (s *Store) withLock(ctx context.Context, key string, fn func() error) error {
	release, err := s.locks.lock(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
