package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты проверки платежа.
const (
	VerificationAccepted = "accepted"
	VerificationReplayed = "replayed"
	VerificationRejected = "rejected"
	VerificationConflict = "conflict"
)

// CheckoutMetrics содержит метрики оформления и оплаты заказов.
type CheckoutMetrics struct {
	ordersCreated   prometheus.Counter
	ordersRejected  *prometheus.CounterVec
	verifications   *prometheus.CounterVec
	gatewayEvents   *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	orphanedOrders  prometheus.Counter
	unclaimedPaid   prometheus.Counter
	timelineEvents  prometheus.Counter
	outboxEvents    prometheus.Counter
	pendingOrders   prometheus.Gauge
}

// NewCheckoutMetrics создаёт метрики в DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer создаёт метрики в указанном registerer.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_created_total",
			Help: "Total number of orders accepted at checkout",
		}),
		ordersRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_rejected_total",
			Help: "Total number of checkout attempts rejected, by reason",
		}, []string{"reason"}),
		verifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_payment_verifications_total",
			Help: "Total number of payment verification attempts, by result",
		}, []string{"result"}),
		gatewayEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_gateway_events_total",
			Help: "Total number of gateway webhook events, by type and result",
		}, []string{"event", "result"}),
		gatewayDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_gateway_request_duration_seconds",
			Help:    "Duration of payment gateway calls in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "outcome"}),
		orphanedOrders: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_orphaned_gateway_orders_total",
			Help: "Gateway orders created for checkouts that could not be persisted",
		}),
		unclaimedPaid: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_payments_on_failed_orders_total",
			Help: "Validly signed payments for orders already marked failed, to be refunded manually",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_events_enqueued_total",
			Help: "Total number of outbox events enqueued",
		}),
		pendingOrders: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_orders_awaiting_payment",
			Help: "Orders created in this process that are still awaiting payment",
		}),
	}
}

// RecordOrderCreated учитывает принятый заказ.
func (m *CheckoutMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
	m.pendingOrders.Inc()
}

// RecordOrderRejected учитывает отклонённую корзину.
func (m *CheckoutMetrics) RecordOrderRejected(reason string) {
	m.ordersRejected.WithLabelValues(reason).Inc()
}

// RecordVerification учитывает результат проверки подписи.
func (m *CheckoutMetrics) RecordVerification(result string) {
	m.verifications.WithLabelValues(result).Inc()
	if result == VerificationAccepted {
		m.pendingOrders.Dec()
	}
}

// RecordGatewayEvent учитывает обработку webhook.
func (m *CheckoutMetrics) RecordGatewayEvent(event, result string) {
	m.gatewayEvents.WithLabelValues(event, result).Inc()
}

// RecordGatewayCall записывает длительность вызова шлюза.
func (m *CheckoutMetrics) RecordGatewayCall(operation string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.gatewayDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// RecordOrphanedGatewayOrder учитывает gateway order без сохранённого заказа.
func (m *CheckoutMetrics) RecordOrphanedGatewayOrder() {
	m.orphanedOrders.Inc()
}

// RecordPaymentOnFailedOrder учитывает подтверждённый платёж, который заказ уже не примет.
func (m *CheckoutMetrics) RecordPaymentOnFailedOrder() {
	m.unclaimedPaid.Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *CheckoutMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
