// Package app собирает сервис stockcart: хранилище, сервисы, HTTP API,
// gRPC health, метрики и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/stockcart/internal/cache"
	healthcheck "github.com/vladislavdragonenkov/stockcart/internal/health"
	"github.com/vladislavdragonenkov/stockcart/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/stockcart/internal/metrics"
	"github.com/vladislavdragonenkov/stockcart/internal/service/idempotency"
	"github.com/vladislavdragonenkov/stockcart/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/stockcart/internal/version"
)

const (
	grpcServiceName = "stockcart.v1.Checkout"
	shutdownTimeout = 5 * time.Second
)

func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	registerer := prometheus.DefaultRegisterer

	rt, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRuntimeDependencies(rt, logger)

	redisCache, closeCache := initCartCache(ctx, cfg, registerer, logger)
	defer closeCache()

	var cartCache cache.CartCache
	if redisCache != nil {
		cartCache = redisCache
	}
	deps := NewDependencies(rt, cartCache, cfg, registerer, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", rt.storageChecker)
	if redisCache != nil {
		healthHandler.RegisterChecker("redis", healthcheck.NewOptionalPingChecker("redis", storagePingTimeout, redisCache))
	}

	// Без Kafka события order.placed копятся в outbox и уйдут после её подключения.
	kafkaProducer, _ := initKafkaProducer(cfg.Brokers(), logger)

	workersCtx, cancelWorkers := context.WithCancel(ctx)
	workersDone := startWorkers(workersCtx, rt, kafkaProducer, cfg, registerer, logger)

	var restockConsumer *kafka.Consumer
	if kafkaProducer != nil {
		restockConsumer, err = startRestockConsumer(workersCtx, cfg, deps.Catalog, kafkaProducer, logger)
		if err != nil {
			logger.WithError(err).Warn("failed to start restock consumer, stock replenishment events are ignored")
		}
	}

	api := httpapi.NewServer(httpapi.Deps{
		Catalog:      deps.Catalog,
		Carts:        deps.Carts,
		Availability: deps.Availability,
		Checkout:     deps.Checkout,
		Orders:       deps.Orders,
		Idempotency:  deps.Idempotency,
		Logger:       logger.WithField("layer", "http"),
	}, httpapi.WithRequestTimeout(cfg.RequestTimeout), httpapi.WithIdempotencyTTL(cfg.IdempotencyTTL))

	grpcMetrics := registerGRPCMetrics(registerer, logger)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	grpcMetrics.InitializeMetrics(grpcServer)
	// Register reflection service for grpcurl and load testing tools
	reflection.Register(grpcServer)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownWorkers(cancelWorkers, workersDone, logger)
		stopRestockConsumer(restockConsumer, logger)
		closeKafkaProducer(kafkaProducer, logger)
		return err
	}
	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		shutdownWorkers(cancelWorkers, workersDone, logger)
		stopRestockConsumer(restockConsumer, logger)
		closeKafkaProducer(kafkaProducer, logger)
		return err
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	errCh := make(chan error, 2)
	apiSrv := &http.Server{Handler: api.Routes(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		errCh <- grpcServer.Serve(grpcLis)
	}()

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcServiceName, healthpb.HealthCheckResponse_SERVING)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервис")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
		}
	}

	healthServer.Shutdown()
	shutdownHTTP(apiSrv, logger)
	stopGRPC(grpcServer, logger)
	shutdownWorkers(cancelWorkers, workersDone, logger)
	stopRestockConsumer(restockConsumer, logger)
	closeKafkaProducer(kafkaProducer, logger)
	shutdownHTTP(metricsSrv, logger)

	return runErr
}

// startWorkers запускает очистку idempotency-ключей и, при наличии Kafka,
// outbox worker. Канал закрывается, когда все воркеры завершились.
func startWorkers(ctx context.Context, rt *runtimeDependencies, producer *kafka.Producer, cfg Config, registerer prometheus.Registerer, logger *log.Entry) <-chan struct{} {
	var wg sync.WaitGroup

	cleanup := idempotency.NewCleanupWorker(rt.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
		idempotency.WithMetrics(metrics.NewCleanupMetricsWithRegisterer(registerer)),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup.Run(ctx)
	}()

	if producer != nil {
		worker := newOutboxWorker(rt.outboxRepo, producer, cfg, registerer, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	} else {
		logger.Warn("kafka is not configured, outbox events stay pending")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// shutdownWorkers отменяет воркеры и ждёт их завершения не дольше shutdownTimeout.
func shutdownWorkers(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("background workers did not stop in time")
	}
}

func registerGRPCMetrics(registerer prometheus.Registerer, logger *log.Entry) *promgrpc.ServerMetrics {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := registerer.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				return existing
			}
		}
		logger.WithError(err).Warn("failed to register grpc metrics")
	}
	return grpcMetrics
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics и health-пробы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
