//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dejobratic/orderflow/internal/database/dbtest"
	"github.com/dejobratic/orderflow/internal/idempotency/postgres"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	pool := dbtest.NewPool(t)
	store := postgres.NewStore(pool, time.Hour)
	ctx := context.Background()

	resp, err := store.Get(ctx, "u1:missing")
	require.NoError(t, err)
	assert.Nil(t, resp)

	require.NoError(t, store.Save(ctx, "u1:key", ports.StoredResponse{
		StatusCode: 201,
		Body:       []byte(`{"id":"o1"}`),
		OrderID:    "o1",
	}))

	t.Run("first response wins while live", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "u1:key", ports.StoredResponse{StatusCode: 500, Body: []byte(`{}`), OrderID: "o2"}))

		resp, err := store.Get(ctx, "u1:key")
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, 201, resp.StatusCode)
		assert.Equal(t, "o1", resp.OrderID)
		assert.JSONEq(t, `{"id":"o1"}`, string(resp.Body))
	})

	t.Run("purge keeps live keys", func(t *testing.T) {
		removed, err := store.Purge(ctx)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("expired keys are invisible, reusable and purged", func(t *testing.T) {
		_, err := pool.Exec(ctx, `UPDATE idempotency_keys SET created_at = NOW() - INTERVAL '2 hours' WHERE key = 'u1:key'`)
		require.NoError(t, err)

		resp, err := store.Get(ctx, "u1:key")
		require.NoError(t, err)
		assert.Nil(t, resp)

		require.NoError(t, store.Save(ctx, "u1:key", ports.StoredResponse{StatusCode: 201, Body: []byte(`{"id":"o3"}`), OrderID: "o3"}))
		resp, err = store.Get(ctx, "u1:key")
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, "o3", resp.OrderID)

		_, err = pool.Exec(ctx, `INSERT INTO idempotency_keys (key, status_code, body, order_id, created_at)
			VALUES ('u2:old', 201, '\x7b7d', 'o4', NOW() - INTERVAL '3 hours')`)
		require.NoError(t, err)

		removed, err := store.Purge(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)
	})
}

func TestStoreReserve(t *testing.T) {
	pool := dbtest.NewPool(t)
	store := postgres.NewStore(pool, time.Hour)
	ctx := context.Background()

	resp, err := store.Reserve(ctx, "u1:reserve")
	require.NoError(t, err)
	assert.Nil(t, resp)

	t.Run("second reservation waits for the first", func(t *testing.T) {
		_, err := store.Reserve(ctx, "u1:reserve")
		assert.ErrorIs(t, err, ports.ErrRequestInProgress)

		resp, err := store.Get(ctx, "u1:reserve")
		require.NoError(t, err)
		assert.Nil(t, resp)
	})

	t.Run("release frees the key", func(t *testing.T) {
		require.NoError(t, store.Release(ctx, "u1:reserve"))

		resp, err := store.Reserve(ctx, "u1:reserve")
		require.NoError(t, err)
		assert.Nil(t, resp)
	})

	t.Run("save completes the reservation", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "u1:reserve", ports.StoredResponse{StatusCode: 201, Body: []byte(`{"id":"o1"}`), OrderID: "o1"}))
		require.NoError(t, store.Release(ctx, "u1:reserve"))

		resp, err := store.Reserve(ctx, "u1:reserve")
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, "o1", resp.OrderID)
	})

	t.Run("lapsed reservation can be taken over", func(t *testing.T) {
		_, err := store.Reserve(ctx, "u2:stale")
		require.NoError(t, err)
		_, err = pool.Exec(ctx, `UPDATE idempotency_keys SET created_at = NOW() - INTERVAL '2 minutes' WHERE key = 'u2:stale'`)
		require.NoError(t, err)

		resp, err := store.Reserve(ctx, "u2:stale")
		require.NoError(t, err)
		assert.Nil(t, resp)
	})

	t.Run("concurrent reservations admit exactly one caller", func(t *testing.T) {
		const callers = 16
		var (
			wg     sync.WaitGroup
			owners atomic.Int32
		)
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.Reserve(ctx, "u3:race"); err == nil {
					owners.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), owners.Load())
	})
}
