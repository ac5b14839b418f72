package memory

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

type outboxEntry struct {
	msg      domain.OutboxMessage
	status   string
	attempts int
	queuedAt time.Time
}

// OutboxRepository - очередь событий в памяти. Записи хранятся в порядке
// постановки и не удаляются.
type OutboxRepository struct {
	mu      sync.RWMutex
	entries []*outboxEntry
	byID    map[string]*outboxEntry
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{byID: make(map[string]*outboxEntry)}
}

// Enqueue ставит событие в очередь. Пустой ID генерируется, занятый ID - ошибка.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = slices.Clone(msg.Payload)
	if len(msg.Payload) == 0 {
		msg.Payload = []byte("{}")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byID[msg.ID]; taken {
		return domain.OutboxMessage{}, fmt.Errorf("outbox %s is already queued", msg.ID)
	}
	e := &outboxEntry{msg: msg, status: outboxStatusPending, queuedAt: time.Now().UTC()}
	r.entries = append(r.entries, e)
	r.byID[msg.ID] = e
	return msg, nil
}

// PullPending отдаёт до limit ожидающих событий, самые старые первыми.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	out := make([]domain.OutboxMessage, 0)
	for e := range r.pending() {
		if len(out) == limit {
			break
		}
		out = append(out, e.msg)
	}
	return out, nil
}

func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	var stats domain.OutboxStats
	for e := range r.pending() {
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = e.queuedAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.settle(id, outboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.settle(id, outboxStatusFailed)
}

// AllPending - все ожидающие события, для проверок в тестах.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	out := []domain.OutboxMessage{}
	for e := range r.pending() {
		out = append(out, e.msg)
	}
	return out
}

func (r *OutboxRepository) settle(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok || e.status != outboxStatusPending {
		return fmt.Errorf("%w: outbox %s is not pending", domain.ErrOutboxPublish, id)
	}
	e.status = status
	e.attempts++
	return nil
}

// pending обходит снимок ожидающих записей, не держа блокировку во время обхода.
func (r *OutboxRepository) pending() iter.Seq[outboxEntry] {
	r.mu.RLock()
	var snapshot []outboxEntry
	for _, e := range r.entries {
		if e.status == outboxStatusPending {
			snapshot = append(snapshot, *e)
		}
	}
	r.mu.RUnlock()

	return func(yield func(outboxEntry) bool) {
		for _, e := range snapshot {
			if !yield(e) {
				return
			}
		}
	}
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
