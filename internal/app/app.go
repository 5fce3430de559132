// Package app собирает сервис заказов из конфигурации и управляет его жизненным циклом.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	healthcheck "github.com/vladislavdragonenkov/ordersvc/internal/health"
	"github.com/vladislavdragonenkov/ordersvc/internal/metrics"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/orders"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/outbox"
	"github.com/vladislavdragonenkov/ordersvc/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/ordersvc/internal/version"
)

const (
	readHeaderTimeout      = 5 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Run проверяет конфигурацию, открывает зависимости и обслуживает запросы до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := log.WithField("component", "app")
	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = deps.Close() }()

	return run(ctx, cfg, deps, logger)
}

// run запускает HTTP API, сервер метрик и фоновые воркеры поверх готовых зависимостей.
func run(ctx context.Context, cfg Config, deps *Dependencies, logger *log.Entry) error {
	mode := orders.DeliveryMode(cfg.DeliveryMode)

	svc, err := orders.NewService(deps.Orders, deps.Publisher, orders.Options{
		Exchange:     cfg.Exchange,
		DeliveryMode: mode,
		Logger:       logger.WithField("layer", "service"),
		Metrics:      metrics.NewOrderMetrics(),
	})
	if err != nil {
		return fmt.Errorf("build order service: %w", err)
	}

	router := httpapi.NewRouter(svc, httpapi.Options{
		Logger:  logger.WithField("layer", "http"),
		Metrics: metrics.NewHTTPMetrics(),
	})
	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.Checkers {
		healthHandler.RegisterChecker(name, checker)
	}

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("HTTP API слушает")
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("останавливаем HTTP API")
		shutdownHTTP(apiSrv, shutdownTimeout, logger)
		return nil
	})

	if cfg.MetricsAddr != "" {
		startMetricsServer(gctx, cfg.MetricsAddr, logger, healthHandler)
	}

	if mode == orders.DeliveryOutbox {
		startOutboxWorkers(gctx, g, cfg, deps, logger)
	}

	err = g.Wait()
	if err != nil {
		return err
	}
	return ctx.Err()
}

func startOutboxWorkers(ctx context.Context, g *errgroup.Group, cfg Config, deps *Dependencies, logger *log.Entry) {
	outboxMetrics := metrics.NewOutboxMetrics()
	options := []outbox.Option{
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithMetrics(outboxMetrics),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if cfg.OutboxDLQ {
		options = append(options, outbox.WithDLQPublisher(deps.Publisher))
	}
	worker := outbox.NewWorker(deps.Outbox, deps.Publisher, options...)

	cleanup := outbox.NewCleanupWorker(
		deps.Outbox,
		outbox.WithCleanupLogger(logger.WithField("layer", "outbox-cleanup")),
		outbox.WithCleanupMetrics(outboxMetrics),
		outbox.WithCleanupInterval(cfg.OutboxCleanupInterval),
		outbox.WithRetention(cfg.OutboxRetention),
	)

	g.Go(func() error {
		worker.Run(ctx)
		return nil
	})
	g.Go(func() error {
		cleanup.Run(ctx)
		return nil
	})
	logger.WithFields(log.Fields{
		"poll_interval": cfg.OutboxPollInterval,
		"batch_size":    cfg.OutboxBatchSize,
		"dlq":           cfg.OutboxDLQ,
	}).Info("outbox workers started")
}

// startMetricsServer запускает HTTP-обработчик /metrics и health-пробы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, defaultShutdownTimeout, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("addr", srv.Addr).Warn("http shutdown with error")
	}
}
