package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DeadLetter - payload события, ушедшего в DLQ после исчерпания попыток.
// cmd/dlq-reprocess восстанавливает по нему исходное событие.
type DeadLetter struct {
	OutboxID     string          `json:"outbox_id"`
	OrderID      string          `json:"order_id"`
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	PublishError string          `json:"publish_error"`
	FailedAt     time.Time       `json:"dlq_published_at"`
}

// newDeadLetterMessage заворачивает событие в DeadLetter, сохраняя id и
// агрегат исходного сообщения. Невалидный JSON payload заменяется на null.
func newDeadLetterMessage(event domain.OutboxMessage, cause error, now time.Time) (domain.OutboxMessage, error) {
	original := json.RawMessage("null")
	if json.Valid(event.Payload) {
		original = event.Payload
	}

	body, err := json.Marshal(DeadLetter{
		OutboxID:     event.ID,
		OrderID:      event.AggregateID,
		EventType:    event.EventType,
		Payload:      original,
		PublishError: cause.Error(),
		FailedAt:     now.UTC(),
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("encode dead letter: %w", err)
	}

	event.Payload = body
	return event, nil
}
