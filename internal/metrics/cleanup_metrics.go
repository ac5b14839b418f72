package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CleanupMetrics - метрики очистки сохранённых ответов create-order.
type CleanupMetrics struct {
	sweeps      *prometheus.CounterVec
	purged      prometheus.Counter
	lastPurged  prometheus.Gauge
	lastBatches prometheus.Gauge
}

// NewCleanupMetrics регистрирует метрики очистки idempotency ключей.
func NewCleanupMetrics(registerer prometheus.Registerer) *CleanupMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CleanupMetrics{
		sweeps: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_idempotency_cleanup_runs_total",
			Help: "Idempotency sweeps over stored create-order responses, by result",
		}, []string{"result"}),
		purged: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_idempotency_cleanup_deleted_total",
			Help: "Expired create-order responses removed from the idempotency store",
		}),
		lastPurged: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_idempotency_cleanup_last_deleted",
			Help: "Records removed by the most recent successful sweep",
		}),
		lastBatches: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_idempotency_cleanup_last_batches",
			Help: "Delete batches issued by the most recent successful sweep",
		}),
	}
}

// RecordBatch учитывает одну удалённую порцию.
func (m *CleanupMetrics) RecordBatch(deleted int) {
	if m == nil || deleted <= 0 {
		return
	}
	m.purged.Add(float64(deleted))
}

// RecordSweep учитывает завершённый проход очистки.
func (m *CleanupMetrics) RecordSweep(deleted, batches int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.sweeps.WithLabelValues("error").Inc()
		return
	}
	m.sweeps.WithLabelValues("ok").Inc()
	m.lastPurged.Set(float64(deleted))
	m.lastBatches.Set(float64(batches))
}
