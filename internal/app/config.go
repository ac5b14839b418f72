package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	IdempotencyBackendStorage = "storage"
	IdempotencyBackendRedis   = "redis"
)

// GatewayConfig - ключи платёжного шлюза. Читаются один раз при старте.
type GatewayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
}

// Config описывает настройки запуска витрины.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int

	IdempotencyBackend          string
	RedisAddr                   string
	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	Gateway          GatewayConfig
	AllowMockGateway bool

	Currency       string
	Shipping       domain.ShippingPolicy
	AdminJWTSecret string
	// CatalogFile - JSON-каталог, загружаемый при старте. Пустое значение пропускает загрузку.
	CatalogFile string

	KafkaBrokers            []string
	KafkaConsumerMaxRetries int
	RabbitMQURL             string
	RabbitMQExchange        string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
}

// DefaultConfig возвращает настройки для локального запуска in-memory.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresMaxConns:    25,

		IdempotencyBackend:          IdempotencyBackendStorage,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		Currency: checkout.DefaultCurrency,
		Shipping: domain.DefaultShippingPolicy(),

		KafkaConsumerMaxRetries: 3,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,
	}
}

// Validate проверяет согласованность настроек до открытия соединений.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.IdempotencyBackend {
	case IdempotencyBackendStorage:
	case IdempotencyBackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("redis addr is required for redis idempotency backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported idempotency backend %q", c.IdempotencyBackend))
	}

	if !c.AllowMockGateway && (c.Gateway.KeyID == "" || c.Gateway.KeySecret == "") {
		errs = append(errs, errors.New("razorpay key id and secret are required unless mock gateway is allowed"))
	}
	if c.Shipping.FlatFeeMinor < 0 || c.Shipping.FreeThresholdMinor < 0 {
		errs = append(errs, errors.New("shipping policy must not be negative"))
	}

	return errors.Join(errs...)
}
