package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func enqueueOrderEvents(t *testing.T, repo *memory.OutboxRepository, eventTypes ...string) []domain.OutboxMessage {
	t.Helper()

	stored := make([]domain.OutboxMessage, 0, len(eventTypes))
	for i, eventType := range eventTypes {
		msg, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   "order-1",
			EventType:     eventType,
			Payload:       []byte(`{"order_id":"order-1","seq":` + strconv.Itoa(i) + `}`),
		})
		require.NoError(t, err)
		stored = append(stored, msg)
	}
	return stored
}

func TestWorker_ProcessOnce_PublishesInOrder(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueueOrderEvents(t, repo, domain.EventOrderCreated, domain.EventOrderPaid)
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	result := worker.ProcessOnce(context.Background())

	assert.Equal(t, BatchResult{Sent: 2}, result)
	assert.Equal(t, []string{domain.EventOrderCreated, domain.EventOrderPaid}, publisher.eventTypes())
	assert.Empty(t, repo.AllPending())

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
}

func TestWorker_ProcessOnce_DeadLettersExhaustedEvent(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	stored := enqueueOrderEvents(t, repo, domain.EventOrderPaymentFailed, domain.EventOrderRefunded)
	publisher := &stubPublisher{sequenceErrors: []error{
		errors.New("broker unavailable"), errors.New("broker unavailable"), errors.New("broker unavailable"),
	}}
	dlq := &stubPublisher{}
	reg := prometheus.NewRegistry()

	worker := NewWorker(repo, publisher,
		WithDLQPublisher(dlq), WithRetryBaseDelay(0), WithMaxAttempts(3),
		WithMetrics(metrics.NewOutboxMetrics(reg)))
	result := worker.ProcessOnce(context.Background())

	// Первое событие сдаётся после трёх попыток, второе проходит с первой.
	assert.Equal(t, BatchResult{Sent: 1, Failed: 1}, result)
	assert.Equal(t, 4, publisher.calls())
	assert.Equal(t, []string{domain.EventOrderRefunded}, publisher.eventTypes())
	assert.Empty(t, repo.AllPending())

	require.Equal(t, 1, dlq.calls())
	letterMsg := dlq.last()
	assert.Equal(t, stored[0].ID, letterMsg.ID)
	assert.Equal(t, "order-1", letterMsg.AggregateID)

	var letter DeadLetter
	require.NoError(t, json.Unmarshal(letterMsg.Payload, &letter))
	assert.Equal(t, stored[0].ID, letter.OutboxID)
	assert.Equal(t, domain.EventOrderPaymentFailed, letter.EventType)
	assert.JSONEq(t, string(stored[0].Payload), string(letter.Payload))
	assert.Contains(t, letter.PublishError, "3 publish attempts failed")
	assert.False(t, letter.FailedAt.IsZero())

	count, err := testutil.GatherAndCount(reg, "storefront_outbox_publish_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 4, count, "sent, retry_error, failed, dead_lettered")
}

func TestNewDeadLetterMessage_InvalidPayload(t *testing.T) {
	t.Parallel()

	msg, err := newDeadLetterMessage(domain.OutboxMessage{ID: "m-1", Payload: []byte("{broken")}, errors.New("boom"), time.Now())
	require.NoError(t, err)

	var letter DeadLetter
	require.NoError(t, json.Unmarshal(msg.Payload, &letter))
	assert.Equal(t, "null", string(letter.Payload))
	assert.Equal(t, "boom", letter.PublishError)
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueueOrderEvents(t, repo, domain.EventOrderStatusChanged)
	publisher := &stubPublisher{sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil}}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(time.Millisecond), WithMaxAttempts(3))
	result := worker.ProcessOnce(context.Background())

	assert.Equal(t, BatchResult{Sent: 1}, result)
	assert.Equal(t, 3, publisher.calls())
}

func TestWorker_ProcessOnce_RespectsBatchSize(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueueOrderEvents(t, repo, domain.EventOrderCreated, domain.EventOrderPaid, domain.EventOrderRefunded)
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithBatchSize(2))
	assert.Equal(t, BatchResult{Sent: 2}, worker.ProcessOnce(context.Background()))
	assert.Len(t, repo.AllPending(), 1)
	assert.Equal(t, BatchResult{Sent: 1}, worker.ProcessOnce(context.Background()))
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	base := 10 * time.Millisecond
	assert.Equal(t, base, backoffDelay(base, 1))
	assert.Equal(t, 40*time.Millisecond, backoffDelay(base, 3))
	assert.Equal(t, time.Duration(1<<63-1), backoffDelay(base, 80))
	assert.Zero(t, backoffDelay(0, 5))
}

func TestWorker_ProcessOnce_CanceledContext(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueueOrderEvents(t, repo, domain.EventOrderCreated)
	publisher := &stubPublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, BatchResult{}, NewWorker(repo, publisher).ProcessOnce(ctx))
	assert.Zero(t, publisher.calls())
	assert.Len(t, repo.AllPending(), 1)
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(memory.NewOutboxRepository(), &stubPublisher{}, WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestFanoutPublisher(t *testing.T) {
	kafka := &stubPublisher{}
	rabbit := &stubPublisher{err: errors.New("channel closed")}

	fanout := NewFanoutPublisher(
		NamedPublisher{Name: "kafka", Publisher: kafka},
		NamedPublisher{Name: "rabbitmq", Publisher: rabbit},
		NamedPublisher{Name: "disabled"},
	)
	assert.Equal(t, 2, fanout.Len())

	err := fanout.Publish(domain.OutboxMessage{ID: "m-1", EventType: domain.EventOrderPaid})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOutboxPublish)
	assert.Contains(t, err.Error(), "rabbitmq: channel closed")
	assert.Equal(t, 1, kafka.calls())

	rabbit.err = nil
	require.NoError(t, fanout.Publish(domain.OutboxMessage{ID: "m-1"}))
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	published      []domain.OutboxMessage
	callCount      int
}

func (s *stubPublisher) Publish(event domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	err := s.err
	if len(s.sequenceErrors) > 0 {
		err = s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
	}
	if err == nil {
		s.published = append(s.published, event)
	}
	return err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubPublisher) last() domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published[len(s.published)-1]
}

func (s *stubPublisher) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.published))
	for _, msg := range s.published {
		types = append(types, msg.EventType)
	}
	return types
}

var _ domain.OutboxPublisher = (*stubPublisher)(nil)
