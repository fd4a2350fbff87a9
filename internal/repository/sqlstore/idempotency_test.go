package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyRecordLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewIdempotencyStore(openTestDB(t))
	now := time.Now().UTC()

	created, err := store.Create(ctx, entity.IdempotencyRecord{RequestID: "req-1", CommandName: "ShipOrder", CreatedAt: now})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.Create(ctx, entity.IdempotencyRecord{RequestID: "req-1", CommandName: "ShipOrder", CreatedAt: now})
	require.NoError(t, err)
	assert.False(t, created)

	record, err := store.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "ShipOrder", record.CommandName)
	assert.False(t, record.Completed())
	assert.Nil(t, record.Result)

	result := []byte(`{"request_id":"req-1","applied":true}`)
	require.NoError(t, store.Complete(ctx, "req-1", result, now))

	record, err = store.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, record.Completed())
	assert.Equal(t, result, record.Result)

	err = store.Complete(ctx, "req-1", []byte(`{}`), now)
	require.ErrorIs(t, err, entity.ErrNotFound)

	record, err = store.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, result, record.Result, "a completed result is never overwritten")
}

func TestIdempotencyDeleteAllowsRetry(t *testing.T) {
	ctx := context.Background()
	store := NewIdempotencyStore(openTestDB(t))

	_, err := store.Create(ctx, entity.IdempotencyRecord{RequestID: "req-1", CommandName: "Cancel", CreatedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "req-1"))

	_, err = store.Get(ctx, "req-1")
	require.ErrorIs(t, err, entity.ErrNotFound)

	created, err := store.Create(ctx, entity.IdempotencyRecord{RequestID: "req-1", CommandName: "Cancel", CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestIdempotencyPurgeRemovesOnlyOldRecords(t *testing.T) {
	ctx := context.Background()
	store := NewIdempotencyStore(openTestDB(t))
	now := time.Now().UTC()

	for id, age := range map[string]time.Duration{"old-1": 48 * time.Hour, "old-2": 25 * time.Hour, "fresh": time.Minute} {
		_, err := store.Create(ctx, entity.IdempotencyRecord{RequestID: id, CommandName: "Ship", CreatedAt: now.Add(-age)})
		require.NoError(t, err)
	}

	purged, err := store.Purge(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	_, err = store.Get(ctx, "fresh")
	require.NoError(t, err)
	_, err = store.Get(ctx, "old-1")
	require.ErrorIs(t, err, entity.ErrNotFound)
}

func TestIdempotencyDeleteKeepsCompletedRecords(t *testing.T) {
	ctx := context.Background()
	store := NewIdempotencyStore(openTestDB(t))

	_, err := store.Create(ctx, entity.IdempotencyRecord{RequestID: "req-1", CommandName: "Cancel", CreatedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "req-1", []byte(`{}`), time.Now()))
	require.NoError(t, store.Delete(ctx, "req-1"))

	record, err := store.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, record.Completed())
}

func TestIdempotencyReclaimOnlyTakesStaleUnfinishedRecords(t *testing.T) {
	ctx := context.Background()
	store := NewIdempotencyStore(openTestDB(t))
	now := time.Now().UTC()
	staleBefore := now.Add(-time.Minute)

	for id, age := range map[string]time.Duration{"stale": time.Hour, "fresh": time.Second, "done": time.Hour} {
		_, err := store.Create(ctx, entity.IdempotencyRecord{RequestID: id, CommandName: "ShipOrder", CreatedAt: now.Add(-age)})
		require.NoError(t, err)
	}
	require.NoError(t, store.Complete(ctx, "done", []byte(`{}`), now))

	for id, want := range map[string]bool{"fresh": false, "done": false, "missing": false} {
		ok, err := store.Reclaim(ctx, id, "ShipOrder", staleBefore, now)
		require.NoError(t, err)
		assert.Equal(t, want, ok, id)
	}

	ok, err := store.Reclaim(ctx, "stale", "CancelOrder", staleBefore, now)
	require.NoError(t, err)
	assert.False(t, ok, "another command cannot take the record")

	ok, err = store.Reclaim(ctx, "stale", "ShipOrder", staleBefore, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Reclaim(ctx, "stale", "ShipOrder", staleBefore, now)
	require.NoError(t, err)
	assert.False(t, ok, "only one worker wins the takeover")

	record, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.WithinDuration(t, now, record.CreatedAt, time.Millisecond)
}
