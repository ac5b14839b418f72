package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestCheckoutMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCheckoutMetricsWithRegisterer(reg)

	m.RecordOrderCreated()
	m.RecordOrderCreated()
	m.RecordVerification(VerificationAccepted)
	m.RecordVerification(VerificationRejected)
	m.RecordOrderRejected("product_unavailable")
	m.RecordOrphanedGatewayOrder()
	m.RecordTimelineEvent()
	m.RecordOutboxEvent()
	m.RecordGatewayEvent("payment.failed", "applied")
	m.RecordPaymentOnFailedOrder()

	if got := testutil.ToFloat64(m.ordersCreated); got != 2 {
		t.Fatalf("orders created = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.pendingOrders); got != 1 {
		t.Fatalf("awaiting payment = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.verifications.WithLabelValues(VerificationRejected)); got != 1 {
		t.Fatalf("rejected verifications = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.orphanedOrders); got != 1 {
		t.Fatalf("orphaned = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ordersRejected.WithLabelValues("product_unavailable")); got != 1 {
		t.Fatalf("rejected orders = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.gatewayEvents.WithLabelValues("payment.failed", "applied")); got != 1 {
		t.Fatalf("gateway events = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.unclaimedPaid); got != 1 {
		t.Fatalf("payments on failed orders = %v, want 1", got)
	}
}

func TestCheckoutMetrics_GatewayHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCheckoutMetricsWithRegisterer(reg)

	m.RecordGatewayCall("create_order", 120*time.Millisecond, nil)
	m.RecordGatewayCall("create_order", 3*time.Second, errors.New("timeout"))

	var metric dto.Metric
	observer := m.gatewayDuration.WithLabelValues("create_order", "error").(prometheus.Histogram)
	if err := observer.Write(&metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if metric.GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("expected one error sample, got %d", metric.GetHistogram().GetSampleCount())
	}
}

func TestRegisterHelpersReuseExistingCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewCheckoutMetricsWithRegisterer(reg)
	second := NewCheckoutMetricsWithRegisterer(reg)
	first.RecordOrderCreated()

	if got := testutil.ToFloat64(second.ordersCreated); got != 1 {
		t.Fatalf("second instance should share collector, got %v", got)
	}

	httpFirst := NewHTTPMetrics(reg)
	httpSecond := NewHTTPMetrics(reg)
	httpFirst.Observe("POST", "/checkout/create-order", 201, 10*time.Millisecond)
	httpSecond.Observe("POST", "/checkout/create-order", 201, 10*time.Millisecond)

	if got := testutil.ToFloat64(httpFirst.requests.WithLabelValues("POST", "/checkout/create-order", "201")); got != 2 {
		t.Fatalf("http requests = %v, want 2", got)
	}
}

func TestRegisterCounterPanicsOnTypeClash(t *testing.T) {
	reg := prometheus.NewRegistry()
	registerGauge(reg, prometheus.GaugeOpts{Name: "clash_metric", Help: "gauge"})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on type clash")
		}
	}()
	registerCounter(reg, prometheus.CounterOpts{Name: "clash_metric", Help: "counter"})
}

func TestCleanupMetrics_Sweeps(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCleanupMetrics(reg)

	m.RecordBatch(2)
	m.RecordBatch(0)
	m.RecordBatch(1)
	m.RecordSweep(3, 2, nil)
	m.RecordSweep(0, 1, errors.New("db down"))

	if got := testutil.ToFloat64(m.purged); got != 3 {
		t.Fatalf("purged = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.lastBatches); got != 2 {
		t.Fatalf("last batches = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.sweeps.WithLabelValues("error")); got != 1 {
		t.Fatalf("failed sweeps = %v, want 1", got)
	}

	var nilMetrics *CleanupMetrics
	nilMetrics.RecordBatch(5)
	nilMetrics.RecordSweep(5, 1, nil)
}

func TestOutboxMetrics_Backlog(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.RecordAttempt("order.paid", OutboxRetry)
	m.RecordAttempt("order.paid", OutboxSent)
	m.SetBacklog(3, time.Now().Add(-time.Minute))

	if got := testutil.ToFloat64(m.attempts.WithLabelValues("order.paid", OutboxSent)); got != 1 {
		t.Fatalf("sent attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.pending); got != 3 {
		t.Fatalf("pending = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.oldestAge); got < 59 {
		t.Fatalf("oldest age = %v, want about 60s", got)
	}

	m.SetBacklog(0, time.Now().Add(-time.Hour))
	if got := testutil.ToFloat64(m.oldestAge); got != 0 {
		t.Fatalf("empty backlog age = %v, want 0", got)
	}
}

func TestNewGRPCServerMetrics_Reused(t *testing.T) {
	registry := prometheus.NewRegistry()

	first := NewGRPCServerMetrics(registry)
	second := NewGRPCServerMetrics(registry)
	if first != second {
		t.Fatal("second registration must return the registered collector")
	}
}
