package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
	"github.com/vladislavdragonenkov/stockcart/internal/metrics"
)

const keyPrefix = "stockcart:cart:"

// RedisCartCache хранит корзины в Redis в виде JSON с TTL и случайным разбросом.
type RedisCartCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
	jitter  time.Duration
	metrics *metrics.CacheMetrics
}

// RedisOption настраивает RedisCartCache.
type RedisOption func(*RedisCartCache)

// WithTTL задаёт базовый TTL и максимальный разброс.
func WithTTL(base, jitter time.Duration) RedisOption {
	return func(c *RedisCartCache) {
		if base > 0 {
			c.baseTTL = base
		}
		if jitter >= 0 {
			c.jitter = jitter
		}
	}
}

// WithCacheMetrics подключает счётчики попаданий.
func WithCacheMetrics(m *metrics.CacheMetrics) RedisOption {
	return func(c *RedisCartCache) {
		c.metrics = m
	}
}

// NewRedisCartCache создаёт кэш поверх клиента Redis.
func NewRedisCartCache(client redis.UniversalClient, opts ...RedisOption) *RedisCartCache {
	c := &RedisCartCache{
		client:  client,
		baseTTL: 5 * time.Minute,
		jitter:  time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type cachedItem struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Quantity  int64     `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

type cachedCart struct {
	UserID    string       `json:"user_id"`
	Items     []cachedItem `json:"items"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (c *RedisCartCache) Get(ctx context.Context, userID string) (domain.Cart, error) {
	data, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.metrics.Miss()
		return domain.Cart{}, ErrCacheMiss
	}
	if err != nil {
		c.metrics.Error()
		return domain.Cart{}, fmt.Errorf("redis get: %w", err)
	}

	var cached cachedCart
	if err := json.Unmarshal(data, &cached); err != nil {
		c.metrics.Error()
		return domain.Cart{}, fmt.Errorf("unmarshal cart: %w", err)
	}
	c.metrics.Hit()

	cart := domain.Cart{
		UserID:    cached.UserID,
		Items:     make([]domain.CartItem, 0, len(cached.Items)),
		UpdatedAt: cached.UpdatedAt,
	}
	for _, item := range cached.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt,
		})
	}
	return cart, nil
}

func (c *RedisCartCache) Set(ctx context.Context, cart domain.Cart) error {
	cached := cachedCart{
		UserID:    cart.UserID,
		Items:     make([]cachedItem, 0, len(cart.Items)),
		UpdatedAt: cart.UpdatedAt,
	}
	for _, item := range cart.Items {
		cached.Items = append(cached.Items, cachedItem{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt,
		})
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(cart.UserID), data, c.ttl()).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCartCache) Delete(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Ping проверяет доступность Redis для health-check.
func (c *RedisCartCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCartCache) ttl() time.Duration {
	if c.jitter <= 0 {
		return c.baseTTL
	}
	return c.baseTTL + rand.N(c.jitter)
}

func cacheKey(userID string) string {
	return keyPrefix + userID
}

var _ CartCache = (*RedisCartCache)(nil)
