package app

import (
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockcart/internal/cache"
	"github.com/vladislavdragonenkov/stockcart/internal/domain"
	"github.com/vladislavdragonenkov/stockcart/internal/metrics"
	"github.com/vladislavdragonenkov/stockcart/internal/service/availability"
	"github.com/vladislavdragonenkov/stockcart/internal/service/cart"
	"github.com/vladislavdragonenkov/stockcart/internal/service/catalog"
	"github.com/vladislavdragonenkov/stockcart/internal/service/checkout"
	"github.com/vladislavdragonenkov/stockcart/internal/service/orders"
)

// Dependencies содержит сервисы приложения поверх выбранного хранилища.
type Dependencies struct {
	Catalog      *catalog.Service
	Carts        *cart.Service
	Availability *availability.Service
	Checkout     *checkout.Coordinator
	Orders       *orders.Service
	Idempotency  domain.IdempotencyRepository
	Logger       *log.Entry
}

// NewDependencies собирает сервисы. cartCache может быть nil: тогда корзины
// читаются напрямую из хранилища.
func NewDependencies(rt *runtimeDependencies, cartCache cache.CartCache, cfg Config, registerer prometheus.Registerer, logger *log.Entry) *Dependencies {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	carts := cart.NewService(rt.cartRepo, rt.catalogRepo, cartCache, logger.WithField("layer", "cart"))
	coordinator := newCheckoutCoordinator(rt.unitOfWork, carts, cfg,
		metrics.NewCheckoutMetricsWithRegisterer(registerer), logger.WithField("layer", "checkout"))

	return &Dependencies{
		Catalog:      catalog.NewService(rt.catalogRepo, cfg.Currency, logger.WithField("layer", "catalog")),
		Carts:        carts,
		Availability: availability.NewService(rt.cartRepo, rt.ledger, logger.WithField("layer", "availability")),
		Checkout:     coordinator,
		Orders:       orders.NewService(rt.orderRepo),
		Idempotency:  rt.idempotencyRepo,
		Logger:       logger,
	}
}

// newCheckoutCoordinator переносит настройки retry и circuit breaker из конфигурации.
func newCheckoutCoordinator(
	uow domain.UnitOfWork,
	invalidator checkout.CartInvalidator,
	cfg Config,
	checkoutMetrics *metrics.CheckoutMetrics,
	logger *log.Entry,
) *checkout.Coordinator {
	retry := checkout.DefaultRetryConfig()
	if cfg.CheckoutMaxAttempts > 0 {
		retry.MaxAttempts = cfg.CheckoutMaxAttempts
	}
	if cfg.CheckoutRetryDelay > 0 {
		retry.InitialDelay = cfg.CheckoutRetryDelay
	}

	breaker := checkout.DefaultBreakerConfig()
	if cfg.CheckoutBreakerFailures > 0 {
		breaker.ConsecutiveFailures = uint32(cfg.CheckoutBreakerFailures) //nolint:gosec // validated positive.
	}
	if cfg.CheckoutBreakerTimeout > 0 {
		breaker.OpenTimeout = cfg.CheckoutBreakerTimeout
	}

	return checkout.NewCoordinator(uow, logger,
		checkout.WithRetryConfig(retry),
		checkout.WithBreakerConfig(breaker),
		checkout.WithMetrics(checkoutMetrics),
		checkout.WithCartInvalidator(invalidator),
	)
}
