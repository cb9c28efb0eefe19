// Package cache хранит read-through копии корзин.
package cache

import (
	"context"
	"errors"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

// ErrCacheMiss возвращается, когда корзины нет в кэше.
var ErrCacheMiss = errors.New("cache: miss")

// CartCache — кэш корзин. Источником правды остаётся CartRepository,
// кэш только ускоряет чтение и никогда не участвует в оформлении заказа.
type CartCache interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Set(ctx context.Context, cart domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

// Nop — кэш-заглушка, когда Redis не настроен.
type Nop struct{}

func (Nop) Get(context.Context, string) (domain.Cart, error) { return domain.Cart{}, ErrCacheMiss }
func (Nop) Set(context.Context, domain.Cart) error           { return nil }
func (Nop) Delete(context.Context, string) error             { return nil }

var _ CartCache = Nop{}
