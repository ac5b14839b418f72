package checkout

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderEventPayload - тело outbox-события. Каждое событие несёт снимок
// заказа, подписчикам не нужно перечитывать его по id.
type orderEventPayload struct {
	OrderID          string               `json:"order_id"`
	OrderNumber      string               `json:"order_number"`
	Status           domain.OrderStatus   `json:"status"`
	PaymentStatus    domain.PaymentStatus `json:"payment_status"`
	GatewayOrderID   string               `json:"gateway_order_id,omitempty"`
	GatewayPaymentID string               `json:"gateway_payment_id,omitempty"`
	TotalMinor       int64                `json:"total_minor"`
	Currency         string               `json:"currency"`
	Items            int                  `json:"items"`
	Reason           string               `json:"reason,omitempty"`
	OccurredAt       time.Time            `json:"ts"`

	eventDetails
}

// eventDetails - поля, которые есть только у отдельных событий.
type eventDetails struct {
	PreviousStatus domain.OrderStatus `json:"from,omitempty"`
	RefundID       string             `json:"refund_id,omitempty"`
	RefundMinor    int64              `json:"amount_minor,omitempty"`
}

// emitEvent пишет событие в outbox и журнал заказа. Заказ к этому моменту
// сохранён, поэтому ошибки обеих записей только логируются.
func (s *Service) emitEvent(ctx context.Context, order domain.Order, eventType, timelineType, reason string, details eventDetails) {
	occurred := order.UpdatedAt
	if occurred.IsZero() {
		occurred = s.now()
	}

	s.enqueueOutbox(ctx, eventType, orderEventPayload{
		OrderID:          order.ID,
		OrderNumber:      order.Number,
		Status:           order.Status,
		PaymentStatus:    order.PaymentStatus,
		GatewayOrderID:   order.GatewayOrderID,
		GatewayPaymentID: order.GatewayPaymentID,
		TotalMinor:       order.TotalMinor,
		Currency:         order.Currency,
		Items:            len(order.Items),
		Reason:           reason,
		OccurredAt:       occurred.UTC(),
		eventDetails:     details,
	})
	s.appendTimeline(ctx, order.ID, timelineType, reason, occurred)
}

func (s *Service) enqueueOutbox(ctx context.Context, eventType string, payload orderEventPayload) {
	if s.outbox == nil {
		return
	}
	logger := s.logger.WithFields(log.Fields{"order_id": payload.OrderID, "event": eventType})

	body, err := json.Marshal(payload)
	if err != nil {
		logger.WithError(err).Error("encode outbox event")
		return
	}
	if _, err := s.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   payload.OrderID,
		EventType:     eventType,
		Payload:       body,
	}); err != nil {
		logger.WithError(err).Error("outbox event lost")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}
}

func (s *Service) appendTimeline(ctx context.Context, orderID, eventType, reason string, occurred time.Time) {
	if s.timeline == nil {
		return
	}
	err := s.timeline.Append(ctx, domain.TimelineEvent{OrderID: orderID, Type: eventType, Reason: reason, Occurred: occurred})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"order_id": orderID, "event": eventType}).Warn("timeline event lost")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordTimelineEvent()
	}
}
