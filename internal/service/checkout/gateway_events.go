package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Обрабатываемые события шлюза.
const (
	GatewayEventPaymentFailed   = "payment.failed"
	GatewayEventRefundProcessed = "refund.processed"
)

// EventOutcome - результат применения события шлюза.
type EventOutcome string

const (
	EventApplied   EventOutcome = "applied"
	EventDuplicate EventOutcome = "duplicate"
	EventIgnored   EventOutcome = "ignored"
	EventQueued    EventOutcome = "queued"
)

var errStaleEvent = errors.New("gateway event does not apply to current order state")

type gatewayEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity refundEntity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

type refundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
}

func (e gatewayEvent) gatewayOrderID() string {
	if e.Payload.Payment == nil {
		return ""
	}
	return strings.TrimSpace(e.Payload.Payment.Entity.OrderID)
}

// HandleWebhook проверяет подпись тела webhook и применяет событие сразу либо
// передаёт его в брокер, если настроен WebhookDispatcher.
func (s *Service) HandleWebhook(ctx context.Context, eventID string, body []byte, signature string) (EventOutcome, error) {
	if err := s.signer.VerifyWebhook(body, signature); err != nil {
		s.logger.WithField("event_id", eventID).Warn("webhook rejected: signature mismatch")
		return "", err
	}

	event, err := parseGatewayEvent(body)
	if err != nil {
		return "", err
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, eventID, body); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"event_id": eventID,
				"event":    event.Event,
			}).Error("failed to dispatch gateway event")
			return "", fmt.Errorf("dispatch gateway event: %w", err)
		}
		s.recordGatewayEvent(event.Event, EventQueued)
		return EventQueued, nil
	}

	return s.applyEvent(ctx, event)
}

// ApplyGatewayEvent применяет уже проверенное тело webhook. Повторная доставка безопасна.
func (s *Service) ApplyGatewayEvent(ctx context.Context, body []byte) (EventOutcome, error) {
	event, err := parseGatewayEvent(body)
	if err != nil {
		return "", err
	}
	return s.applyEvent(ctx, event)
}

func (s *Service) applyEvent(ctx context.Context, event gatewayEvent) (EventOutcome, error) {
	var (
		outcome EventOutcome
		err     error
	)

	switch event.Event {
	case GatewayEventPaymentFailed:
		outcome, err = s.applyPaymentFailed(ctx, event)
	case GatewayEventRefundProcessed:
		outcome, err = s.applyRefundProcessed(ctx, event)
	default:
		outcome = EventIgnored
	}
	if err != nil {
		s.recordGatewayEvent(event.Event, "error")
		return "", err
	}

	s.recordGatewayEvent(event.Event, outcome)
	return outcome, nil
}

func (s *Service) applyPaymentFailed(ctx context.Context, event gatewayEvent) (EventOutcome, error) {
	order, ok, err := s.orderForEvent(ctx, event)
	if !ok || err != nil {
		return EventIgnored, err
	}

	updated, changed, err := s.updateOrder(ctx, order.ID, func(current *domain.Order) error {
		switch current.PaymentStatus {
		case domain.PaymentStatusFailed:
			return errNoChange
		case domain.PaymentStatusPending:
		default:
			// Неуспешная попытка после успешной оплаты ничего не меняет.
			return errStaleEvent
		}
		now := s.now()
		if err := current.MarkPaymentFailed(now); err != nil {
			return err
		}
		if current.Status.CanTransitionTo(domain.OrderStatusCancelled) {
			return current.TransitionStatus(domain.OrderStatusCancelled, now)
		}
		return nil
	})
	if outcome, done, err := s.eventResult(updated, changed, err, event); done {
		return outcome, err
	}

	// Заказ уже не будет оплачен: возвращаем остатки.
	if err := s.inventory.Release(ctx, updated.ID, updated.Items); err != nil {
		s.logger.WithError(err).WithField("order_id", updated.ID).Error("stock not released after payment failure")
	}

	reason := ""
	if event.Payload.Payment != nil {
		reason = event.Payload.Payment.Entity.ErrorDescription
	}
	s.emitEvent(ctx, updated, domain.EventOrderPaymentFailed, domain.TimelinePaymentFailed, reason, eventDetails{})
	return EventApplied, nil
}

func (s *Service) applyRefundProcessed(ctx context.Context, event gatewayEvent) (EventOutcome, error) {
	order, ok, err := s.orderForEvent(ctx, event)
	if !ok || err != nil {
		return EventIgnored, err
	}

	updated, changed, err := s.updateOrder(ctx, order.ID, func(current *domain.Order) error {
		switch current.PaymentStatus {
		case domain.PaymentStatusRefunded:
			return errNoChange
		case domain.PaymentStatusPaid:
			return current.MarkRefunded(s.now())
		default:
			return errStaleEvent
		}
	})
	if outcome, done, err := s.eventResult(updated, changed, err, event); done {
		return outcome, err
	}

	var (
		details eventDetails
		reason  string
	)
	if refund := event.Payload.Refund; refund != nil {
		details.RefundID = refund.Entity.ID
		details.RefundMinor = refund.Entity.Amount
		reason = "refund " + refund.Entity.ID
	}
	s.emitEvent(ctx, updated, domain.EventOrderRefunded, domain.TimelinePaymentRefunded, reason, details)
	return EventApplied, nil
}

// orderForEvent ищет заказ по gateway order id. Событие для неизвестного заказа
// игнорируется: повторная доставка ничего не изменит.
func (s *Service) orderForEvent(ctx context.Context, event gatewayEvent) (domain.Order, bool, error) {
	gatewayOrderID := event.gatewayOrderID()
	logger := s.logger.WithFields(log.Fields{
		"event":            event.Event,
		"gateway_order_id": gatewayOrderID,
	})
	if gatewayOrderID == "" {
		logger.Warn("gateway event without order id ignored")
		return domain.Order{}, false, nil
	}

	order, err := s.orders.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			logger.Warn("gateway event for unknown order ignored")
			return domain.Order{}, false, nil
		}
		return domain.Order{}, false, fmt.Errorf("load order for gateway event: %w", err)
	}
	return order, true, nil
}

// eventResult сводит результат updateOrder к исходу события. done=false означает,
// что заказ изменён и нужно выпустить побочные эффекты.
func (s *Service) eventResult(order domain.Order, changed bool, err error, event gatewayEvent) (EventOutcome, bool, error) {
	if err != nil {
		if errors.Is(err, errStaleEvent) {
			s.logger.WithFields(log.Fields{
				"order_id":       order.ID,
				"event":          event.Event,
				"payment_status": order.PaymentStatus,
			}).Info("stale gateway event ignored")
			return EventIgnored, true, nil
		}
		return "", true, fmt.Errorf("apply %s: %w", event.Event, err)
	}
	if !changed {
		return EventDuplicate, true, nil
	}
	return "", false, nil
}

func (s *Service) recordGatewayEvent(event string, outcome EventOutcome) {
	if s.metrics != nil {
		s.metrics.RecordGatewayEvent(event, string(outcome))
	}
}

func parseGatewayEvent(body []byte) (gatewayEvent, error) {
	var event gatewayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return gatewayEvent{}, fmt.Errorf("%w: malformed gateway event: %v", domain.ErrValidation, err)
	}
	event.Event = strings.TrimSpace(event.Event)
	if event.Event == "" {
		return gatewayEvent{}, fmt.Errorf("%w: gateway event type is required", domain.ErrValidation)
	}
	return event, nil
}
