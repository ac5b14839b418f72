package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.AllowMockGateway = true
	return cfg
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":50051", cfg.GRPCAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	assert.Equal(t, IdempotencyBackendStorage, cfg.IdempotencyBackend)
	assert.True(t, cfg.PostgresAutoMigrate)
	assert.Equal(t, "INR", cfg.Currency)
	assert.Equal(t, domain.DefaultShippingPolicy(), cfg.Shipping)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Positive(t, cfg.OutboxPollInterval)
	assert.Positive(t, cfg.OutboxBatchSize)
	assert.Positive(t, cfg.OutboxMaxAttempts)
	assert.Positive(t, cfg.IdempotencyCleanupInterval)
	assert.Positive(t, cfg.IdempotencyCleanupBatchSize)
	assert.False(t, cfg.AllowMockGateway)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "mock gateway in memory", mutate: func(*Config) {}},
		{
			name: "real gateway credentials",
			mutate: func(c *Config) {
				c.AllowMockGateway = false
				c.Gateway = GatewayConfig{KeyID: "rzp_live_x", KeySecret: "secret"}
			},
		},
		{
			name:    "missing credentials without mock",
			mutate:  func(c *Config) { c.AllowMockGateway = false },
			wantErr: "razorpay key id and secret are required",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.StorageDriver = StorageDriverPostgres },
			wantErr: "postgres dsn is required",
		},
		{
			name:    "unsupported storage driver",
			mutate:  func(c *Config) { c.StorageDriver = "sqlite" },
			wantErr: "unsupported storage driver",
		},
		{
			name:    "redis without addr",
			mutate:  func(c *Config) { c.IdempotencyBackend = IdempotencyBackendRedis },
			wantErr: "redis addr is required",
		},
		{
			name:    "unsupported idempotency backend",
			mutate:  func(c *Config) { c.IdempotencyBackend = "memcached" },
			wantErr: "unsupported idempotency backend",
		},
		{
			name:    "negative shipping fee",
			mutate:  func(c *Config) { c.Shipping.FlatFeeMinor = -1 },
			wantErr: "shipping policy must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
