package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

// WebhookDispatcher публикует проверенные webhooks шлюза в Kafka.
// Ключ сообщения - gateway order id, чтобы события одного заказа применялись по порядку.
type WebhookDispatcher struct {
	producer *Producer
	topic    string
}

// NewWebhookDispatcher создаёт dispatcher для topic (по умолчанию TopicGatewayWebhooks).
func NewWebhookDispatcher(producer *Producer, topic string) *WebhookDispatcher {
	if topic == "" {
		topic = TopicGatewayWebhooks
	}
	return &WebhookDispatcher{producer: producer, topic: topic}
}

// Dispatch реализует checkout.WebhookDispatcher.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, eventID string, body []byte) error {
	if d == nil || d.producer == nil {
		return fmt.Errorf("kafka webhook dispatcher is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := partitionKey(body)
	if key == "" {
		key = eventID
	}

	headers := map[string]string{}
	if eventID != "" {
		headers[HeaderEventID] = eventID
	}
	return d.producer.Send(Message{Topic: d.topic, Key: key, Value: body, Headers: headers})
}

func partitionKey(body []byte) string {
	var envelope struct {
		Payload struct {
			Payment *struct {
				Entity struct {
					OrderID string `json:"order_id"`
				} `json:"entity"`
			} `json:"payment"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Payload.Payment == nil {
		return ""
	}
	return strings.TrimSpace(envelope.Payload.Payment.Entity.OrderID)
}

// GatewayEventApplier применяет тело webhook к заказам.
type GatewayEventApplier interface {
	ApplyGatewayEvent(ctx context.Context, body []byte) (checkout.EventOutcome, error)
}

// NewGatewayEventHandler возвращает MessageHandler для TopicGatewayWebhooks.
// Некорректное тело не повторяется и сразу уходит в DLQ.
func NewGatewayEventHandler(applier GatewayEventApplier, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "gateway-events")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		outcome, err := applier.ApplyGatewayEvent(ctx, message.Value)
		if err != nil {
			if errors.Is(err, domain.ErrValidation) {
				return Permanent(err)
			}
			return err
		}

		logger.WithFields(log.Fields{
			"event_id":  headerValue(message, HeaderEventID),
			"outcome":   outcome,
			"partition": message.Partition,
			"offset":    message.Offset,
		}).Debug("gateway event consumed")
		return nil
	}
}

var _ checkout.WebhookDispatcher = (*WebhookDispatcher)(nil)
