package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты попытки публикации outbox-события.
const (
	OutboxSent         = "sent"
	OutboxRetry        = "retry_error"
	OutboxExhausted    = "failed"
	OutboxDeadLettered = "dead_lettered"
	OutboxDLQFailed    = "dlq_failed"
)

// OutboxMetrics - публикация событий заказов из transactional outbox.
type OutboxMetrics struct {
	attempts  *prometheus.CounterVec
	pending   prometheus.Gauge
	oldestAge prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики outbox worker.
func NewOutboxMetrics(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OutboxMetrics{
		attempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_publish_attempts_total",
			Help: "Order event publish attempts, by event type and result",
		}, []string{"event_type", "result"}),
		pending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_outbox_pending_records",
			Help: "Order events waiting in the outbox",
		}),
		oldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest order event waiting in the outbox",
		}),
	}
}

// RecordAttempt учитывает результат публикации события.
func (m *OutboxMetrics) RecordAttempt(eventType, result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(eventType, result).Inc()
}

// SetBacklog обновляет размер очереди и возраст самого старого события.
func (m *OutboxMetrics) SetBacklog(pending int, oldest time.Time) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))

	age := 0.0
	if pending > 0 && !oldest.IsZero() {
		age = max(time.Since(oldest).Seconds(), 0)
	}
	m.oldestAge.Set(age)
}
