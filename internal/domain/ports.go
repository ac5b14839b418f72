package domain

import (
	"context"
	"time"
)

// GatewayOrderRequest - параметры hosted-заказа в платёжном шлюзе.
type GatewayOrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// GatewayOrder - заказ, созданный на стороне шлюза.
type GatewayOrder struct {
	ID          string
	AmountMinor int64
	Currency    string
	Receipt     string
	Status      string
}

// PaymentGateway описывает взаимодействие с платёжным провайдером.
type PaymentGateway interface {
	// CreateOrder создаёт hosted-заказ, который клиент оплачивает через виджет.
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
	// KeyID возвращает публичный ключ, который отдаётся клиенту.
	KeyID() string
}

// Типы событий, публикуемых через outbox.
const (
	EventOrderCreated       = "order.created"
	EventOrderPaid          = "order.paid"
	EventOrderPaymentFailed = "order.payment_failed"
	EventOrderRefunded      = "order.refunded"
	EventOrderStatusChanged = "order.status_changed"
)

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
