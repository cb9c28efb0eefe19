package app

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockcart/internal/cache"
	"github.com/vladislavdragonenkov/stockcart/internal/metrics"
)

// initCartCache подключает Redis, если задан адрес. Недоступный на старте
// Redis не мешает запуску: корзины читаются из хранилища, кэш догонит позже.
func initCartCache(ctx context.Context, cfg Config, registerer prometheus.Registerer, logger *log.Entry) (*cache.RedisCartCache, func()) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, func() {}
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	cartCache := cache.NewRedisCartCache(client,
		cache.WithTTL(cfg.CartCacheTTL, cfg.CartCacheTTL/5),
		cache.WithCacheMetrics(metrics.NewCacheMetricsWithRegisterer(registerer)),
	)

	pingCtx, cancel := context.WithTimeout(ctx, storagePingTimeout)
	defer cancel()
	if err := cartCache.Ping(pingCtx); err != nil {
		logger.WithError(err).WithField("redis_addr", addr).Warn("redis is not reachable, cart cache will retry lazily")
	} else {
		logger.WithField("redis_addr", addr).Info("cart cache initialized")
	}

	return cartCache, func() {
		if err := client.Close(); err != nil {
			logger.WithError(err).Warn("failed to close redis client")
		}
	}
}
