package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	insertTimelineEvent = `INSERT INTO timeline_events (order_id, type, reason, occurred) VALUES ($1, $2, $3, $4)`
	// id разрешает порядок событий с одинаковым occurred.
	selectOrderTimeline = `SELECT type, reason, occurred FROM timeline_events WHERE order_id = $1 ORDER BY occurred, id`
)

type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository - журнал событий заказа в таблице timeline_events.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

// Append пишет событие. Событие для несуществующего заказа отклоняет внешний
// ключ, ошибка оборачивает domain.ErrOrderNotFound.
func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	occurred := event.Occurred
	if occurred.IsZero() {
		occurred = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, insertTimelineEvent, event.OrderID, event.Type, event.Reason, occurred.UTC())
	switch {
	case err == nil:
		return nil
	case isForeignKeyViolation(err):
		return fmt.Errorf("timeline for order %s: %w", event.OrderID, domain.ErrOrderNotFound)
	default:
		return fmt.Errorf("append %s to timeline: %w", event.Type, err)
	}
}

// List возвращает события заказа в хронологическом порядке; для неизвестного
// заказа - пустой срез.
func (r *timelineRepository) List(ctx context.Context, orderID string) (events []domain.TimelineEvent, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, selectOrderTimeline, orderID)
	if err != nil {
		return nil, fmt.Errorf("query timeline of %s: %w", orderID, err)
	}
	defer func() { err = errors.Join(err, rows.Close()) }()

	events = []domain.TimelineEvent{}
	for rows.Next() {
		event := domain.TimelineEvent{OrderID: orderID}
		if err := rows.Scan(&event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline row: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read timeline of %s: %w", orderID, err)
	}
	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
