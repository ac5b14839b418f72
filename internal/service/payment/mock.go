package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// MockGateway - конфигурируемая заглушка шлюза для локального запуска и тестов.
type MockGateway struct {
	mu sync.Mutex

	Key string
	Err error

	Calls    int
	Requests []domain.GatewayOrderRequest
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway(keyID string) *MockGateway {
	if keyID == "" {
		keyID = "rzp_test_mock"
	}
	return &MockGateway{Key: keyID}
}

// CreateOrder возвращает заранее настроенную ошибку или новый order_<uuid>.
func (m *MockGateway) CreateOrder(_ context.Context, req domain.GatewayOrderRequest) (domain.GatewayOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return domain.GatewayOrder{}, m.Err
	}

	return domain.GatewayOrder{
		ID:          fmt.Sprintf("order_%s", uuid.NewString()),
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Receipt:     req.Receipt,
		Status:      "created",
	}, nil
}

func (m *MockGateway) KeyID() string {
	return m.Key
}

// CallCount возвращает число вызовов CreateOrder.
func (m *MockGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// SetError задаёт ошибку для следующих вызовов.
func (m *MockGateway) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
