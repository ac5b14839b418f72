package app

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	httpsvc "github.com/vladislavdragonenkov/storefront/internal/service/http"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// Run собирает зависимости и обслуживает HTTP API, метрики, gRPC health и
// фоновые воркеры до отмены ctx. При остановке по сигналу возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	gateway, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}

	b, err := initBrokers(cfg, logger)
	if err != nil {
		return err
	}
	defer b.close(logger)

	inventorySvc := inventory.NewService(deps.productRepo, logger)
	if cfg.CatalogFile != "" {
		if err := seedCatalog(ctx, cfg, inventorySvc, logger); err != nil {
			return err
		}
	}

	var opts []checkout.Option
	if b.webhooks != nil {
		opts = append(opts, checkout.WithWebhookDispatcher(b.webhooks))
	}
	svc := checkout.NewService(checkout.Dependencies{
		Orders:    deps.repo,
		Timeline:  deps.timelineRepo,
		Outbox:    deps.outboxRepo,
		Inventory: inventorySvc,
		Gateway:   gateway,
		Signer:    payment.NewSigner(cfg.Gateway.KeySecret, cfg.Gateway.WebhookSecret),
		Metrics:   metrics.NewCheckoutMetrics(),
		Logger:    logger,
	}, checkout.Settings{
		Currency: cfg.Currency,
		Shipping: cfg.Shipping,
	}, opts...)

	consumer, err := newGatewayConsumer(cfg, b, svc, logger)
	if err != nil {
		return err
	}

	api := httpsvc.NewHandler(svc, httpsvc.Options{
		Idempotency:    deps.idempotencyRepo,
		IdempotencyTTL: cfg.IdempotencyTTL,
		AdminSecret:    []byte(cfg.AdminJWTSecret),
		Metrics:        metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
		Logger:         logger,
	})
	if cfg.AdminJWTSecret == "" {
		logger.Warn("admin jwt secret is empty, /admin routes are disabled")
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}

	listeners, err := listenAll(cfg.HTTPAddr, cfg.MetricsAddr, cfg.GRPCAddr)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{Handler: api.Router(), ReadHeaderTimeout: readHeaderTimeout}
	metricsSrv := &http.Server{Handler: newMetricsMux(healthHandler), ReadHeaderTimeout: readHeaderTimeout}
	grpcServer, grpcHealth := newOpsGRPCServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveHTTP(gctx, "http", httpSrv, listeners[0], logger) })
	g.Go(func() error { return serveHTTP(gctx, "metrics", metricsSrv, listeners[1], logger) })
	g.Go(func() error { return serveGRPC(gctx, grpcServer, grpcHealth, listeners[2], logger) })

	if b.publisher != nil {
		workerOpts := []outbox.Option{
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
			outbox.WithMetrics(metrics.NewOutboxMetrics(prometheus.DefaultRegisterer)),
		}
		if b.dlq != nil {
			workerOpts = append(workerOpts, outbox.WithDLQPublisher(b.dlq))
		}
		worker := outbox.NewWorker(deps.outboxRepo, b.publisher, workerOpts...)
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	} else {
		logger.Info("no message broker configured, outbox events stay pending")
	}

	// Redis удаляет ключи по TTL сам.
	if cfg.IdempotencyBackend != IdempotencyBackendRedis {
		cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo,
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
			idempotency.WithMetrics(metrics.NewCleanupMetrics(prometheus.DefaultRegisterer)),
		)
		g.Go(func() error {
			cleanup.Run(gctx)
			return nil
		})
	}

	if consumer != nil {
		g.Go(func() error { return consumer.Run(gctx) })
	}

	log.WithFields(version.Fields()).WithFields(log.Fields{
		"http_addr":    listeners[0].Addr().String(),
		"metrics_addr": listeners[1].Addr().String(),
		"grpc_addr":    listeners[2].Addr().String(),
		"storage":      cfg.StorageDriver,
		"currency":     svc.Currency(),
	}).Info("storefront started")

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// seedCatalog загружает каталог из Config.CatalogFile до открытия портов.
func seedCatalog(ctx context.Context, cfg Config, inventorySvc *inventory.Service, logger *log.Entry) error {
	products, err := catalog.LoadFile(cfg.CatalogFile, cfg.Currency)
	if err != nil {
		return err
	}
	written, err := catalog.Seed(ctx, inventorySvc, products)
	if err != nil {
		return err
	}
	logger.WithFields(log.Fields{"file": cfg.CatalogFile, "products": written}).Info("catalog seeded")
	return nil
}

// listenAll открывает все адреса заранее: ошибка порта видна до старта воркеров.
func listenAll(addrs ...string) ([]net.Listener, error) {
	listeners := make([]net.Listener, 0, len(addrs))
	for _, addr := range addrs {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			for _, opened := range listeners {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("listen %s: %w", addr, err)
		}
		listeners = append(listeners, lis)
	}
	return listeners, nil
}
