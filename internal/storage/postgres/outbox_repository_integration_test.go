package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func orderEvent(orderID, eventType string) domain.OutboxMessage {
	return domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       []byte(fmt.Sprintf(`{"order_id":%q}`, orderID)),
	}
}

func TestOutboxRepository_Postgres(t *testing.T) {
	ctx := context.Background()

	t.Run("enqueue keeps order and settles once", func(t *testing.T) {
		repo := NewOutboxRepository(migratedTestStore(t))

		created, err := repo.Enqueue(ctx, orderEvent("order_1", domain.EventOrderCreated))
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)

		fixed := orderEvent("order_1", domain.EventOrderPaid)
		fixed.ID = "evt-paid-1"
		paid, err := repo.Enqueue(ctx, fixed)
		require.NoError(t, err)
		assert.Equal(t, "evt-paid-1", paid.ID)

		pending, err := repo.PullPending(ctx, 0)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, domain.EventOrderCreated, pending[0].EventType)
		assert.JSONEq(t, `{"order_id":"order_1"}`, string(pending[1].Payload))

		require.NoError(t, repo.MarkSent(ctx, created.ID))
		require.NoError(t, repo.MarkFailed(ctx, paid.ID))
		require.ErrorIs(t, repo.MarkSent(ctx, paid.ID), domain.ErrOutboxPublish)

		pending, err = repo.PullPending(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)

		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.PendingCount)
		assert.True(t, stats.OldestPendingAt.IsZero())
	})

	t.Run("empty payload stored as object", func(t *testing.T) {
		repo := NewOutboxRepository(migratedTestStore(t))

		msg := orderEvent("order_2", domain.EventOrderStatusChanged)
		msg.Payload = nil
		_, err := repo.Enqueue(ctx, msg)
		require.NoError(t, err)

		pending, err := repo.PullPending(ctx, 1)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.JSONEq(t, `{}`, string(pending[0].Payload))
	})

	t.Run("backlog reports oldest pending", func(t *testing.T) {
		repo := NewOutboxRepository(migratedTestStore(t))
		before := time.Now().UTC().Add(-time.Second)

		first, err := repo.Enqueue(ctx, orderEvent("order_old", domain.EventOrderCreated))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		_, err = repo.Enqueue(ctx, orderEvent("order_new", domain.EventOrderCreated))
		require.NoError(t, err)

		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.PendingCount)
		assert.True(t, stats.OldestPendingAt.After(before))
		oldest := stats.OldestPendingAt

		require.NoError(t, repo.MarkSent(ctx, first.ID))
		stats, err = repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.PendingCount)
		assert.True(t, stats.OldestPendingAt.After(oldest))
	})

	t.Run("unknown id", func(t *testing.T) {
		repo := NewOutboxRepository(migratedTestStore(t))

		require.ErrorIs(t, repo.MarkSent(ctx, "missing"), domain.ErrOutboxPublish)
		require.ErrorIs(t, repo.MarkFailed(ctx, "missing"), domain.ErrOutboxPublish)
	})
}
