package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type publishedMessage struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	published  []publishedMessage
	declareErr error
	publishErr error
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	if f.declareErr != nil {
		return f.declareErr
	}
	if kind != "topic" || !durable {
		return errors.New("unexpected exchange kind")
	}
	f.declared = append(f.declared, name)
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishedMessage{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	publisher, err := NewOutboxPublisher(ch, "")
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultExchange}, ch.declared)

	err = publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     domain.EventOrderPaid,
		Payload:       []byte(`{"order_number":"ORD-1"}`),
	})
	require.NoError(t, err)

	require.Len(t, ch.published, 1)
	sent := ch.published[0]
	assert.Equal(t, DefaultExchange, sent.exchange)
	assert.Equal(t, domain.EventOrderPaid, sent.key)
	assert.Equal(t, amqp.Persistent, sent.msg.DeliveryMode)
	assert.Equal(t, "outbox-1", sent.msg.MessageId)
	assert.Equal(t, "application/json", sent.msg.ContentType)
	assert.Equal(t, "order-1", sent.msg.Headers["aggregate_id"])

	var body envelope
	require.NoError(t, json.Unmarshal(sent.msg.Body, &body))
	assert.Equal(t, "order-1", body.AggregateID)
	assert.JSONEq(t, `{"order_number":"ORD-1"}`, string(body.Payload))
}

func TestOutboxPublisher_InvalidPayloadBecomesNull(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	publisher, err := NewOutboxPublisher(ch, "orders")
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(domain.OutboxMessage{ID: "x", EventType: "order.created", Payload: []byte("not-json")}))

	var body envelope
	require.NoError(t, json.Unmarshal(ch.published[0].msg.Body, &body))
	assert.Equal(t, "null", string(body.Payload))
}

func TestOutboxPublisher_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewOutboxPublisher(nil, "")
	assert.Error(t, err)

	_, err = NewOutboxPublisher(&fakeChannel{declareErr: amqp.ErrClosed}, "")
	assert.ErrorIs(t, err, amqp.ErrClosed)

	ch := &fakeChannel{publishErr: amqp.ErrClosed}
	publisher, err := NewOutboxPublisher(ch, "")
	require.NoError(t, err)
	assert.ErrorIs(t, publisher.Publish(domain.OutboxMessage{ID: "x", EventType: "order.created"}), amqp.ErrClosed)

	require.NoError(t, publisher.Close())
	assert.True(t, ch.closed)
}
