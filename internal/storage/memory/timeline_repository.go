package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// timelineStore держит журнал каждого заказа отсортированным по Occurred.
// События с одинаковым временем остаются в порядке добавления.
type timelineStore struct {
	mu       sync.RWMutex
	byOrder  map[string][]domain.TimelineEvent
	clockNow func() time.Time
}

func NewTimelineRepository() domain.TimelineRepository {
	return &timelineStore{byOrder: make(map[string][]domain.TimelineEvent), clockNow: time.Now}
}

func (r *timelineStore) Append(_ context.Context, event domain.TimelineEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Occurred.IsZero() {
		event.Occurred = r.clockNow()
	}
	event.Occurred = event.Occurred.UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	journal := r.byOrder[event.OrderID]
	// первая позиция строго позже event
	at, _ := slices.BinarySearchFunc(journal, event.Occurred, func(e domain.TimelineEvent, t time.Time) int {
		if e.Occurred.After(t) {
			return 1
		}
		return -1
	})
	r.byOrder[event.OrderID] = slices.Insert(journal, at, event)
	return nil
}

func (r *timelineStore) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	journal := r.byOrder[orderID]
	if journal == nil {
		return []domain.TimelineEvent{}, nil
	}
	return slices.Clone(journal), nil
}

var _ domain.TimelineRepository = (*timelineStore)(nil)
