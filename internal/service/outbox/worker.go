// Package outbox доставляет события заказов из transactional outbox в брокеры.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Worker опрашивает outbox и публикует pending-события. Событие, которое не
// удалось опубликовать за maxAttempts попыток, уходит в DLQ и помечается failed,
// чтобы не блокировать следующие.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	cfg       workerConfig
}

// BatchResult - итог одного цикла опроса.
type BatchResult struct {
	Sent   int
	Failed int
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	cfg := defaultWorkerConfig()
	for _, apply := range options {
		apply(&cfg)
	}
	return &Worker{repo: repo, publisher: publisher, cfg: cfg.normalize()}
}

// Run выполняет цикл сразу и затем раз в pollInterval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.cfg.logger.Warn("outbox worker has no repository or publisher, not starting")
		return
	}

	ticker := time.NewTicker(w.cfg.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce забирает до batchSize pending-событий и публикует их в порядке
// создания. При отмене ctx возвращает то, что успел обработать.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var result BatchResult
	if ctx.Err() != nil {
		return result
	}
	defer w.observeBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.cfg.batchSize)
	if err != nil {
		w.cfg.logger.WithError(err).Warn("outbox poll failed")
		return result
	}

	for _, event := range batch {
		if ctx.Err() != nil {
			break
		}
		sent, err := w.deliver(ctx, event)
		if isContextErr(err) {
			break
		}
		if sent {
			result.Sent++
		} else if err == nil {
			result.Failed++
		}
	}
	return result
}

// deliver публикует одно событие и фиксирует исход в outbox. sent=false с
// nil-ошибкой означает, что событие помечено failed.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) (sent bool, err error) {
	logger := w.cfg.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"order_id":   event.AggregateID,
		"event_type": event.EventType,
	})

	publishErr := w.publish(ctx, event)
	switch {
	case isContextErr(publishErr):
		return false, publishErr
	case publishErr == nil:
		if err := w.repo.MarkSent(ctx, event.ID); err != nil {
			// Событие уйдёт повторно в следующем цикле.
			logger.WithError(err).Warn("published event could not be marked sent")
			return false, err
		}
		return true, nil
	}

	logger.WithError(publishErr).Error("giving up on order event")
	w.cfg.metrics.RecordAttempt(event.EventType, metrics.OutboxExhausted)
	w.deadLetter(event, publishErr, logger)

	if err := w.repo.MarkFailed(ctx, event.ID); err != nil {
		logger.WithError(err).Warn("exhausted event could not be marked failed")
	}
	return false, nil
}

// publish вызывает Publish до maxAttempts раз с удваивающейся паузой.
func (w *Worker) publish(ctx context.Context, event domain.OutboxMessage) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = w.publisher.Publish(event); err == nil {
			w.cfg.metrics.RecordAttempt(event.EventType, metrics.OutboxSent)
			return nil
		}
		w.cfg.metrics.RecordAttempt(event.EventType, metrics.OutboxRetry)

		if attempt == w.cfg.maxAttempts {
			return fmt.Errorf("%d publish attempts failed: %w", attempt, err)
		}
		if err := sleepCtx(ctx, backoffDelay(w.cfg.retryBaseDelay, attempt)); err != nil {
			return err
		}
	}
}

func (w *Worker) deadLetter(event domain.OutboxMessage, cause error, logger *log.Entry) {
	if w.cfg.deadLetters == nil {
		return
	}

	letter, err := newDeadLetterMessage(event, cause, time.Now())
	if err == nil {
		err = w.cfg.deadLetters.Publish(letter)
	}
	if err != nil {
		logger.WithError(err).Warn("order event lost: dead letter not published")
		w.cfg.metrics.RecordAttempt(event.EventType, metrics.OutboxDLQFailed)
		return
	}
	w.cfg.metrics.RecordAttempt(event.EventType, metrics.OutboxDeadLettered)
}

func (w *Worker) observeBacklog(ctx context.Context) {
	if w.cfg.metrics == nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.cfg.logger.WithError(err).Debug("outbox stats unavailable")
		return
	}
	w.cfg.metrics.SetBacklog(stats.PendingCount, stats.OldestPendingAt)
}

// backoffDelay - base * 2^(attempt-1), без переполнения.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	const ceiling = time.Duration(1<<63 - 1)
	if base <= 0 {
		return 0
	}

	delay := base
	for ; attempt > 1; attempt-- {
		if delay > ceiling/2 {
			return ceiling
		}
		delay *= 2
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
