package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	envHTTPAddr                    = "STOREFRONT_HTTP_ADDR"
	envMetricsAddr                 = "STOREFRONT_METRICS_ADDR"
	envGRPCAddr                    = "STOREFRONT_GRPC_ADDR"
	envStorageDriver               = "STOREFRONT_STORAGE_DRIVER"
	envPostgresDSN                 = "STOREFRONT_POSTGRES_DSN"
	envPostgresAutoMigrate         = "STOREFRONT_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxConns            = "STOREFRONT_POSTGRES_MAX_CONNS"
	envIdempotencyBackend          = "STOREFRONT_IDEMPOTENCY_BACKEND"
	envRedisAddr                   = "STOREFRONT_REDIS_ADDR"
	envIdempotencyTTL              = "STOREFRONT_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envRazorpayKeyID               = "RAZORPAY_KEY_ID"
	envRazorpayKeySecret           = "RAZORPAY_KEY_SECRET"
	envRazorpayWebhookSecret       = "RAZORPAY_WEBHOOK_SECRET"
	envRazorpayBaseURL             = "RAZORPAY_BASE_URL"
	envAllowMockGateway            = "STOREFRONT_ALLOW_MOCK_GATEWAY"
	envCurrency                    = "STOREFRONT_CURRENCY"
	envShippingFreeThreshold       = "STOREFRONT_SHIPPING_FREE_THRESHOLD"
	envShippingFlatFee             = "STOREFRONT_SHIPPING_FLAT_FEE"
	envAdminJWTSecret              = "STOREFRONT_ADMIN_JWT_SECRET"
	envCatalogFile                 = "STOREFRONT_CATALOG_FILE"
	envKafkaBrokers                = "KAFKA_BROKERS"
	envKafkaConsumerMaxRetries     = "KAFKA_CONSUMER_MAX_RETRIES"
	envRabbitMQURL                 = "RABBITMQ_URL"
	envRabbitMQExchange            = "RABBITMQ_EXCHANGE"
	envOutboxPollInterval          = "STOREFRONT_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "STOREFRONT_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "STOREFRONT_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "STOREFRONT_OUTBOX_RETRY_DELAY"
)

type envLookup func(string) (string, bool)

func positiveInt(v int) bool                { return v > 0 }
func positiveDuration(v time.Duration) bool { return v > 0 }

// readConfigFromEnv собирает app.Config поверх DefaultConfig. Некорректные
// значения не роняют запуск: остаётся значение по умолчанию и пишется предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v, using default %t", key, err, *dst))
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, positiveInt, "must be > 0")
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v, using default %d", key, err, *dst))
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v, using default %s", key, err, *dst))
			return
		}
		*dst = parsed
	}
	money := func(key string, dst *int64) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := domain.ParseMajor(strings.TrimSpace(v))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v, using default %s", key, err, domain.FormatMinor(*dst)))
			return
		}
		*dst = parsed
	}

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)

	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	integer(envPostgresMaxConns, &cfg.PostgresMaxConns)

	str(envIdempotencyBackend, &cfg.IdempotencyBackend)
	cfg.IdempotencyBackend = strings.ToLower(cfg.IdempotencyBackend)
	str(envRedisAddr, &cfg.RedisAddr)
	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)

	str(envRazorpayKeyID, &cfg.Gateway.KeyID)
	str(envRazorpayKeySecret, &cfg.Gateway.KeySecret)
	str(envRazorpayWebhookSecret, &cfg.Gateway.WebhookSecret)
	str(envRazorpayBaseURL, &cfg.Gateway.BaseURL)
	boolean(envAllowMockGateway, &cfg.AllowMockGateway)

	str(envCurrency, &cfg.Currency)
	cfg.Currency = strings.ToUpper(cfg.Currency)
	money(envShippingFreeThreshold, &cfg.Shipping.FreeThresholdMinor)
	money(envShippingFlatFee, &cfg.Shipping.FlatFeeMinor)
	str(envAdminJWTSecret, &cfg.AdminJWTSecret)
	str(envCatalogFile, &cfg.CatalogFile)

	if v, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	integer(envKafkaConsumerMaxRetries, &cfg.KafkaConsumerMaxRetries)
	str(envRabbitMQURL, &cfg.RabbitMQURL)
	str(envRabbitMQExchange, &cfg.RabbitMQExchange)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize)
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, func(v time.Duration) bool { return v >= 0 }, "must be >= 0")

	return cfg, warnings
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}
