package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

type letterKind string

const (
	kindAll     letterKind = "all"
	kindWebhook letterKind = "webhook"
	kindOutbox  letterKind = "outbox"
)

func (k letterKind) valid() bool {
	return k == kindAll || k == kindWebhook || k == kindOutbox
}

func (k letterKind) accepts(other letterKind) bool {
	return k == kindAll || k == other
}

var errUnknownLetter = errors.New("unknown dead letter format")

// replayMessage - сообщение, которое нужно вернуть в рабочий топик.
type replayMessage struct {
	kind    letterKind
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

// decodeLetter распознаёт оба формата DLQ: письмо consumer'а webhooks и
// outbox-событие, исчерпавшее попытки публикации.
func decodeLetter(msg *sarama.ConsumerMessage) (replayMessage, error) {
	if letter, err := kafka.ParseDeadLetter(msg); err == nil && letter.OriginalValue != "" {
		topic := strings.TrimSpace(letter.OriginalTopic)
		if topic == "" {
			topic = kafka.TopicGatewayWebhooks
		}
		var headers map[string]string
		if letter.EventID != "" {
			headers = map[string]string{kafka.HeaderEventID: letter.EventID}
		}
		return replayMessage{
			kind:    kindWebhook,
			topic:   topic,
			key:     letter.OriginalKey,
			value:   []byte(letter.OriginalValue),
			headers: headers,
		}, nil
	}

	event, err := kafka.ParseOrderEvent(msg)
	if err != nil || event.EventType == "" || len(event.Payload) == 0 {
		return replayMessage{}, errUnknownLetter
	}

	var failure outbox.DeadLetter
	if err := json.Unmarshal(event.Payload, &failure); err != nil {
		return replayMessage{}, fmt.Errorf("decode outbox failure: %w", err)
	}
	if len(failure.Payload) == 0 || string(failure.Payload) == "null" {
		return replayMessage{}, errors.New("outbox failure has no original payload")
	}

	restored := kafka.OrderEvent{
		ID:            firstNonEmpty(failure.OutboxID, event.ID),
		AggregateType: event.AggregateType,
		AggregateID:   firstNonEmpty(failure.OrderID, event.AggregateID),
		EventType:     firstNonEmpty(failure.EventType, event.EventType),
		Payload:       failure.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	body, err := json.Marshal(restored)
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode order event: %w", err)
	}

	return replayMessage{
		kind:  kindOutbox,
		topic: kafka.TopicOrderEvents,
		key:   firstNonEmpty(restored.AggregateID, restored.ID),
		value: body,
	}, nil
}

func (m replayMessage) producerMessage() *sarama.ProducerMessage {
	return kafka.Message{Topic: m.topic, Key: m.key, Value: m.value, Headers: m.headers}.ProducerMessage()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
