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

func TestIdempotencyRepository_Postgres(t *testing.T) {
	repo := NewIdempotencyRepository(migratedTestStore(t))
	ctx := context.Background()

	t.Run("replay stored response", func(t *testing.T) {
		expires := time.Now().UTC().Add(2 * time.Hour).Round(time.Microsecond)

		reserved, err := repo.CreateProcessing(ctx, "checkout-done", "sha-cart", expires)
		require.NoError(t, err)
		assert.Equal(t, domain.IdempotencyStatusProcessing, reserved.Status)

		require.NoError(t, repo.MarkDone(ctx, "checkout-done", []byte(`{"order_id":"order-1"}`), 201))

		stored, err := repo.Get(ctx, "checkout-done")
		require.NoError(t, err)
		assert.True(t, stored.Replayable())
		assert.Equal(t, 201, stored.HTTPStatus)
		assert.JSONEq(t, `{"order_id":"order-1"}`, string(stored.ResponseBody))
		assert.True(t, stored.TTLAt.Equal(expires), "ttl %s != %s", stored.TTLAt, expires)
	})

	t.Run("live key conflicts", func(t *testing.T) {
		expires := time.Now().UTC().Add(time.Hour)
		_, err := repo.CreateProcessing(ctx, "checkout-live", "sha-a", expires)
		require.NoError(t, err)

		held, err := repo.CreateProcessing(ctx, "checkout-live", "sha-a", expires)
		require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
		assert.Equal(t, "sha-a", held.RequestHash)

		_, err = repo.CreateProcessing(ctx, "checkout-live", "sha-b", expires)
		require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	})

	t.Run("expired key is reclaimed without old response", func(t *testing.T) {
		_, err := repo.CreateProcessing(ctx, "checkout-stale", "sha-old", time.Now().UTC().Add(-time.Minute))
		require.NoError(t, err)
		require.NoError(t, repo.MarkFailed(ctx, "checkout-stale", []byte(`{"error":"gateway"}`), 502))

		reclaimed, err := repo.CreateProcessing(ctx, "checkout-stale", "sha-new", time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, "sha-new", reclaimed.RequestHash)

		stored, err := repo.Get(ctx, "checkout-stale")
		require.NoError(t, err)
		assert.Equal(t, domain.IdempotencyStatusProcessing, stored.Status)
		assert.Empty(t, stored.ResponseBody)
		assert.Zero(t, stored.HTTPStatus)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := repo.Get(ctx, "checkout-missing")
		require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
		require.ErrorIs(t, repo.MarkDone(ctx, "checkout-missing", nil, 200), domain.ErrIdempotencyKeyNotFound)
	})
}

func TestIdempotencyRepository_PostgresDeleteExpiredBatches(t *testing.T) {
	repo := NewIdempotencyRepository(migratedTestStore(t))
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 1; i <= 3; i++ {
		_, err := repo.CreateProcessing(ctx, fmt.Sprintf("expired-%d", i), "sha", now.Add(-time.Duration(10-i)*time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "live", "sha", now.Add(time.Hour))
	require.NoError(t, err)

	removed, err := repo.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = repo.Get(ctx, "expired-3")
	require.NoError(t, err, "youngest expired key outlives the first batch")

	removed, err = repo.DeleteExpired(ctx, now, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = repo.Get(ctx, "live")
	require.NoError(t, err)
}
