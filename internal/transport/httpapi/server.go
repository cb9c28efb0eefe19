// Package httpapi — HTTP/JSON API каталога, корзины и оформления заказов.
// Пользователь приходит от внешнего gateway в заголовках X-User-ID и X-User-Role.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
	"github.com/vladislavdragonenkov/stockcart/internal/service/availability"
	"github.com/vladislavdragonenkov/stockcart/internal/service/cart"
	"github.com/vladislavdragonenkov/stockcart/internal/service/catalog"
	"github.com/vladislavdragonenkov/stockcart/internal/service/checkout"
	"github.com/vladislavdragonenkov/stockcart/internal/service/orders"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
)

// Deps — сервисы, которые обслуживает API.
type Deps struct {
	Catalog      *catalog.Service
	Carts        *cart.Service
	Availability *availability.Service
	Checkout     *checkout.Coordinator
	Orders       *orders.Service
	// Idempotency может быть nil: тогда заголовок Idempotency-Key игнорируется.
	Idempotency domain.IdempotencyRepository
	Logger      *log.Entry
}

// Option настраивает Server.
type Option func(*Server)

// WithRequestTimeout ограничивает время обработки одного запроса.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.requestTimeout = timeout
		}
	}
}

// WithIdempotencyTTL задаёт срок хранения ответа по Idempotency-Key.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(s *Server) {
		if ttl > 0 {
			s.idempotencyTTL = ttl
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// Server держит обработчики HTTP API.
type Server struct {
	catalog      *catalog.Service
	carts        *cart.Service
	availability *availability.Service
	checkout     *checkout.Coordinator
	orders       *orders.Service
	idempotency  domain.IdempotencyRepository
	logger       *log.Entry

	requestTimeout time.Duration
	idempotencyTTL time.Duration
	now            func() time.Time
}

// NewServer собирает HTTP API поверх сервисов.
func NewServer(deps Deps, opts ...Option) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	s := &Server{
		catalog:        deps.Catalog,
		carts:          deps.Carts,
		availability:   deps.Availability,
		checkout:       deps.Checkout,
		orders:         deps.Orders,
		idempotency:    deps.Idempotency,
		logger:         logger,
		requestTimeout: defaultRequestTimeout,
		idempotencyTTL: defaultIdempotencyTTL,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes возвращает роутер API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(s.withDeadline)
	r.Use(identify)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", s.listProducts)
			r.Post("/", s.createProduct)
			r.Get("/{productID}", s.getProduct)
			r.Put("/{productID}", s.updateProduct)
			r.Delete("/{productID}", s.deleteProduct)
			r.Post("/{productID}/restock", s.restockProduct)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", s.getCart)
				r.Delete("/", s.clearCart)
				r.Post("/items", s.addCartItem)
				r.Delete("/items/{itemID}", s.removeCartItem)
				r.Get("/availability", s.cartAvailability)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", s.placeOrder)
				r.Get("/", s.listOrders)
				r.Get("/{orderID}", s.getOrder)
			})
		})
	})

	return r
}

func (s *Server) withDeadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		entry := s.logger.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
		if ww.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	})
}
