// Package idempotency обслуживает хранилище ответов create-order: сохранённые
// ответы живут TTL, после чего их удаляет фоновая очистка.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

// SweepReport - итог одного прохода очистки.
type SweepReport struct {
	Deleted int
	Batches int
	Elapsed time.Duration
}

type cleanupConfig struct {
	logger    *log.Entry
	metrics   *metrics.CleanupMetrics
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*cleanupConfig)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(c *cleanupConfig) { c.logger = logger }
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(c *cleanupConfig) { c.interval = interval }
}

// WithBatchSize ограничивает число записей в одном DELETE.
func WithBatchSize(size int) CleanupOption {
	return func(c *cleanupConfig) { c.batchSize = size }
}

// WithMetrics подключает метрики очистки.
func WithMetrics(m *metrics.CleanupMetrics) CleanupOption {
	return func(c *cleanupConfig) { c.metrics = m }
}

// CleanupWorker удаляет ответы create-order с истёкшим TTL. Повтор запроса с
// тем же Idempotency-Key после удаления создаёт новый заказ.
type CleanupWorker struct {
	store domain.IdempotencyRepository
	cfg   cleanupConfig
}

// NewCleanupWorker создаёт воркер. Неположительные интервал и размер порции
// заменяются значениями по умолчанию.
func NewCleanupWorker(store domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	cfg := cleanupConfig{now: func() time.Time { return time.Now().UTC() }}
	for _, apply := range options {
		apply(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "idempotency-cleanup")
	}
	if cfg.interval <= 0 {
		cfg.interval = defaultCleanupInterval
	}
	if cfg.batchSize <= 0 {
		cfg.batchSize = defaultCleanupBatchSize
	}
	return &CleanupWorker{store: store, cfg: cfg}
}

// Run делает проход сразу и затем раз в интервал, пока ctx не отменён.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.store == nil {
		w.cfg.logger.Warn("idempotency store is not configured, cleanup skipped")
		return
	}

	ticker := time.NewTicker(w.cfg.interval)
	defer ticker.Stop()

	for {
		w.sweepAndLog(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) sweepAndLog(ctx context.Context) {
	report, err := w.Sweep(ctx, w.cfg.now())
	if errors.Is(err, context.Canceled) {
		return
	}
	w.cfg.metrics.RecordSweep(report.Deleted, report.Batches, err)

	entry := w.cfg.logger.WithFields(log.Fields{
		"deleted": report.Deleted,
		"batches": report.Batches,
		"elapsed": report.Elapsed,
	})
	switch {
	case err != nil:
		entry.WithError(err).Warn("idempotency sweep failed")
	case report.Deleted > 0:
		entry.Info("expired create-order responses removed")
	default:
		entry.Debug("nothing to remove")
	}
}

// Sweep удаляет записи с expires_at <= before порциями, пока очередная
// порция не окажется неполной. Нулевой before означает текущее время.
func (w *CleanupWorker) Sweep(ctx context.Context, before time.Time) (report SweepReport, err error) {
	if before.IsZero() {
		before = w.cfg.now()
	}

	started := time.Now()
	defer func() { report.Elapsed = time.Since(started) }()

	for batchFull := true; batchFull; {
		if err = ctx.Err(); err != nil {
			return report, err
		}

		var n int
		n, err = w.store.DeleteExpired(ctx, before, w.cfg.batchSize)
		if err != nil {
			return report, err
		}
		report.Batches++
		report.Deleted += n
		w.cfg.metrics.RecordBatch(n)

		batchFull = n >= w.cfg.batchSize
	}
	return report, nil
}
