package checkout_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

const (
	testKeySecret     = "rzp_test_secret"
	testWebhookSecret = "rzp_webhook_secret"
)

type fixture struct {
	svc      *checkout.Service
	products *memory.ProductRepository
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   *memory.OutboxRepository
	gateway  *payment.MockGateway
	signer   *payment.Signer
	registry *prometheus.Registry
}

func newFixture(t *testing.T, opts ...checkout.Option) *fixture {
	t.Helper()

	products := memory.NewProductRepository(
		domain.Product{ID: "p-sofa", Name: "Teak Sofa", PriceMinor: 150000, Currency: "INR", StockQuantity: 5, Active: true},
		domain.Product{ID: "p-lamp", Name: "Brass Lamp", PriceMinor: 50000, Currency: "INR", StockQuantity: 3, Active: true},
		domain.Product{ID: "p-mug", Name: "Stone Mug", PriceMinor: 25000, Currency: "INR", StockQuantity: 0, Active: true},
		domain.Product{ID: "p-old", Name: "Old Vase", PriceMinor: 10000, Currency: "INR", StockQuantity: 9, Active: false},
	)

	return newFixtureWithGateway(t, products, payment.NewMockGateway("rzp_test_key"), opts...)
}

func newFixtureWithGateway(t *testing.T, products *memory.ProductRepository, gateway domain.PaymentGateway, opts ...checkout.Option) *fixture {
	t.Helper()

	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := log.NewEntry(logger)

	registry := prometheus.NewRegistry()
	orders := memory.NewOrderRepository(products)
	timeline := memory.NewTimelineRepository()
	outbox := memory.NewOutboxRepository()
	signer := payment.NewSigner(testKeySecret, testWebhookSecret)

	svc := checkout.NewService(checkout.Dependencies{
		Orders:    orders,
		Timeline:  timeline,
		Outbox:    outbox,
		Inventory: inventory.NewService(products, entry),
		Gateway:   gateway,
		Signer:    signer,
		Metrics:   metrics.NewCheckoutMetricsWithRegisterer(registry),
		Logger:    entry,
	}, checkout.Settings{Currency: "INR"}, opts...)

	mock, _ := gateway.(*payment.MockGateway)
	return &fixture{
		svc:      svc,
		products: products,
		orders:   orders,
		timeline: timeline,
		outbox:   outbox,
		gateway:  mock,
		signer:   signer,
		registry: registry,
	}
}

func validInput(lines ...inventory.Line) checkout.CreateOrderInput {
	return checkout.CreateOrderInput{
		Items:    lines,
		Customer: domain.Customer{Name: "Asha Rao", Email: "asha@example.com", Phone: "+91 98450 00000"},
		ShippingAddress: domain.Address{
			Line1:      "12 MG Road",
			City:       "Bengaluru",
			State:      "KA",
			PostalCode: "560001",
			Country:    "IN",
		},
	}
}

func (f *fixture) createOrder(t *testing.T, lines ...inventory.Line) checkout.CreateOrderResult {
	t.Helper()
	result, err := f.svc.CreateOrder(context.Background(), validInput(lines...))
	require.NoError(t, err)
	return result
}

func (f *fixture) stock(t *testing.T, productID string) int32 {
	t.Helper()
	product, err := f.products.Get(context.Background(), productID)
	require.NoError(t, err)
	return product.StockQuantity
}

func (f *fixture) timelineTypes(t *testing.T, orderID string) []string {
	t.Helper()
	events, err := f.timeline.List(context.Background(), orderID)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}
	return types
}

func (f *fixture) outboxTypes() []string {
	pending := f.outbox.AllPending()
	types := make([]string, 0, len(pending))
	for _, msg := range pending {
		types = append(types, msg.EventType)
	}
	return types
}

// outboxPayload возвращает тело последнего события eventType.
func (f *fixture) outboxPayload(t *testing.T, eventType string) map[string]any {
	t.Helper()
	var payload map[string]any
	for _, msg := range f.outbox.AllPending() {
		if msg.EventType == eventType {
			payload = nil
			require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		}
	}
	require.NotNil(t, payload, "no %s event in outbox", eventType)
	return payload
}

func (f *fixture) counterValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)

	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func fixedClock(ts time.Time) checkout.Option {
	return checkout.WithClock(func() time.Time { return ts })
}
