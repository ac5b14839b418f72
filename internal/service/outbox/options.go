package outbox

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

type workerConfig struct {
	logger         *log.Entry
	metrics        *metrics.OutboxMetrics
	deadLetters    domain.OutboxPublisher
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

func defaultWorkerConfig() workerConfig {
	return workerConfig{
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
}

// normalize возвращает значения по умолчанию вместо неположительных.
func (c workerConfig) normalize() workerConfig {
	if c.logger == nil {
		c.logger = log.WithField("component", "outbox-worker")
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.batchSize <= 0 {
		c.batchSize = defaultBatchSize
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	c.retryBaseDelay = max(c.retryBaseDelay, 0)
	return c
}

// Option настраивает Worker.
type Option func(*workerConfig)

func WithLogger(logger *log.Entry) Option {
	return func(c *workerConfig) { c.logger = logger }
}

// WithMetrics подключает метрики публикации и backlog.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(c *workerConfig) { c.metrics = m }
}

// WithDLQPublisher задаёт получателя событий, исчерпавших попытки.
// Без него такие события только помечаются failed.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(c *workerConfig) { c.deadLetters = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(c *workerConfig) { c.pollInterval = interval }
}

func WithBatchSize(size int) Option {
	return func(c *workerConfig) { c.batchSize = size }
}

// WithMaxAttempts - число вызовов Publish на одно событие за цикл.
func WithMaxAttempts(attempts int) Option {
	return func(c *workerConfig) { c.maxAttempts = attempts }
}

// WithRetryBaseDelay - пауза после первой неудачи, далее удваивается.
// Ноль отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(c *workerConfig) { c.retryBaseDelay = delay }
}
