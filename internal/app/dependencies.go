package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	"github.com/vladislavdragonenkov/storefront/internal/storage/redisstore"
)

// runtimeDependencies - хранилища и проверки, выбранные по конфигурации.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	productRepo     domain.ProductRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	checkers map[string]healthcheck.Checker
	closers  []func() error
}

func (d *runtimeDependencies) addCloser(fn func() error) {
	d.closers = append(d.closers, fn)
}

// close закрывает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	d.closers = nil
	return errors.Join(errs...)
}

// initRuntimeDependencies открывает хранилище и idempotency backend.
// При ошибке уже открытые ресурсы закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}

	if err := initStorage(ctx, cfg, deps, logger); err != nil {
		_ = deps.close()
		return nil, err
	}
	if err := initIdempotency(ctx, cfg, deps, logger); err != nil {
		_ = deps.close()
		return nil, err
	}
	return deps, nil
}

func initStorage(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) error {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		products := memory.NewProductRepository()
		deps.productRepo = products
		deps.repo = memory.NewOrderRepository(products)
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.timelineRepo = memory.NewTimelineRepository()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		logger.Info("using in-memory storage")
		return nil

	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return errors.New("postgres dsn is required for postgres storage driver")
		}

		store, err := postgres.Open(ctx, dsn, postgres.WithMaxConns(cfg.PostgresMaxConns))
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		deps.addCloser(store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("apply postgres migrations: %w", err)
			}
		}

		deps.productRepo = postgres.NewProductRepository(store)
		deps.repo = postgres.NewOrderRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.timelineRepo = postgres.NewTimelineRepository(store)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		deps.checkers["postgres"] = healthcheck.Postgres(store.DB())
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("using postgres storage")
		return nil

	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// initIdempotency при backend=redis заменяет репозиторий ключей на Redis.
func initIdempotency(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) error {
	switch cfg.IdempotencyBackend {
	case IdempotencyBackendStorage, "":
		return nil
	case IdempotencyBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		deps.addCloser(client.Close)

		repo := redisstore.NewIdempotencyRepository(client, "")
		if err := repo.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		deps.idempotencyRepo = repo
		deps.checkers["redis"] = healthcheck.Redis(client)
		logger.WithField("addr", cfg.RedisAddr).Info("using redis idempotency store")
		return nil
	default:
		return fmt.Errorf("unsupported idempotency backend %q", cfg.IdempotencyBackend)
	}
}

// newGateway выбирает клиента Razorpay или mock для локального запуска.
func newGateway(cfg Config, logger *log.Entry) (domain.PaymentGateway, error) {
	if cfg.Gateway.KeyID != "" && cfg.Gateway.KeySecret != "" {
		var opts []payment.ClientOption
		if cfg.Gateway.BaseURL != "" {
			opts = append(opts, payment.WithBaseURL(cfg.Gateway.BaseURL))
		}
		return payment.NewRazorpayClient(cfg.Gateway.KeyID, cfg.Gateway.KeySecret, opts...), nil
	}
	if !cfg.AllowMockGateway {
		return nil, errors.New("razorpay credentials are not configured")
	}

	logger.Warn("razorpay credentials are not configured, using mock gateway")
	if cfg.Gateway.KeySecret == "" {
		logger.Warn("key secret is empty, payment verification will reject every signature")
	}
	return payment.NewMockGateway(cfg.Gateway.KeyID), nil
}
