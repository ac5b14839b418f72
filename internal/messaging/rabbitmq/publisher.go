package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// DefaultExchange - topic exchange для событий заказов; routing key = тип события.
	DefaultExchange = "storefront.orders"
	publishTimeout  = 5 * time.Second
)

// Channel - подмножество *amqp.Channel, нужное паблишеру.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// OutboxPublisher публикует outbox-сообщения в RabbitMQ.
type OutboxPublisher struct {
	conn     *amqp.Connection
	channel  Channel
	exchange string
	logger   *log.Entry
}

type envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Dial подключается к брокеру и объявляет exchange.
func Dial(url, exchange string) (*OutboxPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	publisher, err := NewOutboxPublisher(ch, exchange)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	publisher.conn = conn
	return publisher, nil
}

// NewOutboxPublisher объявляет durable topic exchange на канале.
func NewOutboxPublisher(ch Channel, exchange string) (*OutboxPublisher, error) {
	if ch == nil {
		return nil, errors.New("rabbitmq channel is nil")
	}
	if exchange == "" {
		exchange = DefaultExchange
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &OutboxPublisher{
		channel:  ch,
		exchange: exchange,
		logger:   log.WithField("component", "rabbitmq-publisher"),
	}, nil
}

// Publish отправляет событие persistent-сообщением. MessageId = outbox id,
// по нему потребители отбрасывают повторы.
func (p *OutboxPublisher) Publish(event domain.OutboxMessage) error {
	payload := json.RawMessage(event.Payload)
	if !json.Valid(payload) {
		payload = json.RawMessage("null")
	}

	now := time.Now().UTC()
	body, err := json.Marshal(envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		event.EventType,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Type:         event.EventType,
			Timestamp:    now,
			Headers: amqp.Table{
				"aggregate_type": event.AggregateType,
				"aggregate_id":   event.AggregateID,
			},
			Body: body,
		},
	)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"exchange":   p.exchange,
			"event_type": event.EventType,
			"outbox_id":  event.ID,
		}).Error("failed to publish message to rabbitmq")
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (p *OutboxPublisher) Close() error {
	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
