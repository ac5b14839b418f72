package kafka

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// HeaderEventType дублирует тип события, чтобы подписчики фильтровали без
// разбора тела.
const HeaderEventType = "x-event-type"

var errPublisherNotReady = errors.New("kafka outbox publisher has no producer")

// OutboxTopicPublisher отправляет outbox-сообщения в один topic в конверте
// OrderEvent.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher - publisher в topic, по умолчанию TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

// Publish ключует сообщение id заказа: события одного заказа попадают в одну
// партицию и читаются по порядку.
func (p *OutboxTopicPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotReady
	}

	envelope := newOrderEvent(msg, time.Now())
	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}
	return p.producer.SendJSON(p.topic, key, envelope, map[string]string{
		HeaderEventType: msg.EventType,
	})
}

func newOrderEvent(msg domain.OutboxMessage, now time.Time) OrderEvent {
	payload := json.RawMessage("null")
	if json.Valid(msg.Payload) {
		payload = msg.Payload
	}
	return OrderEvent{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   now.UTC(),
	}
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
