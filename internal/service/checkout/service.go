package checkout

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
)

// DefaultCurrency - валюта витрины, если в конфигурации не задана другая.
const DefaultCurrency = "INR"

// WebhookDispatcher передаёт проверенное событие шлюза асинхронному обработчику.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, eventID string, body []byte) error
}

// Dependencies - внешние зависимости сервиса оформления.
type Dependencies struct {
	Orders    domain.OrderRepository
	Timeline  domain.TimelineRepository
	Outbox    domain.OutboxRepository
	Inventory *inventory.Service
	Gateway   domain.PaymentGateway
	Signer    *payment.Signer
	Metrics   *metrics.CheckoutMetrics
	Logger    *log.Entry
}

// Settings - параметры витрины, вычитанные из конфигурации один раз при старте.
type Settings struct {
	Currency string
	Shipping domain.ShippingPolicy
}

// Option настраивает Service.
type Option func(*Service)

// WithWebhookDispatcher включает асинхронную обработку webhooks через брокер.
func WithWebhookDispatcher(dispatcher WebhookDispatcher) Option {
	return func(s *Service) {
		s.dispatcher = dispatcher
	}
}

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithNumberGenerator подменяет генератор номеров заказов.
func WithNumberGenerator(next func(time.Time) (string, error)) Option {
	return func(s *Service) {
		if next != nil {
			s.nextNumber = next
		}
	}
}

// Service реализует оформление заказа, проверку оплаты и back-office операции.
type Service struct {
	orders     domain.OrderRepository
	timeline   domain.TimelineRepository
	outbox     domain.OutboxRepository
	inventory  *inventory.Service
	gateway    domain.PaymentGateway
	signer     *payment.Signer
	metrics    *metrics.CheckoutMetrics
	dispatcher WebhookDispatcher
	logger     *log.Entry

	currency   string
	shipping   domain.ShippingPolicy
	now        func() time.Time
	nextNumber func(time.Time) (string, error)
}

// NewService собирает сервис. Metrics, Timeline и Outbox опциональны.
func NewService(deps Dependencies, settings Settings, opts ...Option) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	currency := strings.ToUpper(strings.TrimSpace(settings.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	shipping := settings.Shipping
	if shipping == (domain.ShippingPolicy{}) {
		shipping = domain.DefaultShippingPolicy()
	}

	svc := &Service{
		orders:     deps.Orders,
		timeline:   deps.Timeline,
		outbox:     deps.Outbox,
		inventory:  deps.Inventory,
		gateway:    deps.Gateway,
		signer:     deps.Signer,
		metrics:    deps.Metrics,
		logger:     logger.WithField("component", "checkout"),
		currency:   currency,
		shipping:   shipping,
		now:        func() time.Time { return time.Now().UTC() },
		nextNumber: NewOrderNumber,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Currency возвращает валюту витрины.
func (s *Service) Currency() string {
	return s.currency
}

// GetOrderByNumber возвращает заказ для страницы подтверждения.
func (s *Service) GetOrderByNumber(ctx context.Context, number string) (domain.Order, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return domain.Order{}, domain.ErrOrderNumberRequired
	}
	return s.orders.GetByNumber(ctx, number)
}

var errNoChange = errors.New("order already in requested state")

const (
	maxSaveAttempts = 3
	saveRetryDelay  = 10 * time.Millisecond
)

// updateOrder перечитывает заказ, применяет mutate и сохраняет его. При конфликте
// версий повторяет попытку на свежих данных с экспоненциальной задержкой.
// mutate может вернуть errNoChange, тогда заказ возвращается без сохранения.
func (s *Service) updateOrder(ctx context.Context, orderID string, mutate func(*domain.Order) error) (domain.Order, bool, error) {
	for attempt := 0; ; attempt++ {
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return domain.Order{}, false, err
		}

		if err := mutate(&order); err != nil {
			if errors.Is(err, errNoChange) {
				return order, false, nil
			}
			return order, false, err
		}

		err = s.orders.Save(ctx, order)
		if err == nil {
			order.Version++
			return order, true, nil
		}
		if !domain.IsVersionConflict(err) || attempt >= maxSaveAttempts-1 {
			return order, false, err
		}

		s.logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt + 1,
		}).Warn("version conflict detected, retrying")

		select {
		case <-ctx.Done():
			return order, false, ctx.Err()
		case <-time.After(saveRetryDelay * time.Duration(1<<uint(attempt))):
		}
	}
}
