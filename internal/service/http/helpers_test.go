package httpsvc_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	httpsvc "github.com/vladislavdragonenkov/storefront/internal/service/http"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

const (
	testKeySecret     = "rzp_test_secret"
	testWebhookSecret = "rzp_webhook_secret"
	testAdminSecret   = "admin-secret"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	router   *gin.Engine
	products *memory.ProductRepository
	orders   domain.OrderRepository
	gateway  *payment.MockGateway
	signer   *payment.Signer
	registry *prometheus.Registry
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := log.NewEntry(logger)

	products := memory.NewProductRepository(
		domain.Product{ID: "p-sofa", Name: "Teak Sofa", PriceMinor: 150000, Currency: "INR", StockQuantity: 5, Active: true},
		domain.Product{ID: "p-lamp", Name: "Brass Lamp", PriceMinor: 50000, Currency: "INR", StockQuantity: 3, Active: true},
		domain.Product{ID: "p-mug", Name: "Stone Mug", PriceMinor: 25000, Currency: "INR", StockQuantity: 0, Active: true},
	)
	orders := memory.NewOrderRepository(products)
	gateway := payment.NewMockGateway("rzp_test_key")
	signer := payment.NewSigner(testKeySecret, testWebhookSecret)
	registry := prometheus.NewRegistry()

	svc := checkout.NewService(checkout.Dependencies{
		Orders:    orders,
		Timeline:  memory.NewTimelineRepository(),
		Outbox:    memory.NewOutboxRepository(),
		Inventory: inventory.NewService(products, entry),
		Gateway:   gateway,
		Signer:    signer,
		Metrics:   metrics.NewCheckoutMetricsWithRegisterer(registry),
		Logger:    entry,
	}, checkout.Settings{Currency: "INR"})

	handler := httpsvc.NewHandler(svc, httpsvc.Options{
		Idempotency: memory.NewIdempotencyRepository(),
		AdminSecret: []byte(testAdminSecret),
		Metrics:     metrics.NewHTTPMetrics(registry),
		Logger:      entry,
	})

	return &apiFixture{
		router:   handler.Router(),
		products: products,
		orders:   orders,
		gateway:  gateway,
		signer:   signer,
		registry: registry,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(v)
	case []byte:
		reader = bytes.NewReader(v)
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) adminHeaders(t *testing.T) map[string]string {
	t.Helper()
	token, err := httpsvc.IssueAdminToken([]byte(testAdminSecret), "ops@storefront", time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func (f *apiFixture) createOrder(t *testing.T, items ...map[string]interface{}) httpsvc.CreateOrderResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/checkout/create-order", orderBody(items...), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp httpsvc.CreateOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func item(productID string, qty int) map[string]interface{} {
	return map[string]interface{}{"productId": productID, "quantity": qty}
}

func orderBody(items ...map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"items": items,
		"customerInfo": map[string]string{
			"name":  "Asha Rao",
			"email": "asha@example.com",
			"phone": "+91 98450 00000",
		},
		"shippingAddress": map[string]string{
			"line1":      "12 MG Road",
			"city":       "Bengaluru",
			"state":      "KA",
			"postalCode": "560001",
			"country":    "IN",
		},
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}

func discardLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}
