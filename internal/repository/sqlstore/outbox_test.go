package sqlstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// savePaidOrder commits one save that writes three outbox entries.
func savePaidOrder(t *testing.T, db *DB) repository.SaveResult {
	t.Helper()
	order := newOrder(t)
	require.NoError(t, order.SetAwaitingValidationStatus())
	require.NoError(t, order.SetStockConfirmedStatus())
	require.NoError(t, order.SetPaidStatus())
	result, err := NewOrderRepository(db, nil).Save(context.Background(), order)
	require.NoError(t, err)
	require.Len(t, result.IntegrationEvents, 3)
	return result
}

func entryIDs(entries []entity.IntegrationEventLogEntry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.EventID)
	}
	return ids
}

func TestClaimPendingPreservesSaveOrder(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	log := NewEventLog(db)
	result := savePaidOrder(t, db)

	claimed, err := log.ClaimPending(ctx, "worker-a", 10, time.Now(), time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	for i, entry := range claimed {
		assert.Equal(t, result.IntegrationEvents[i].EventID(), entry.EventID)
		assert.Equal(t, result.IntegrationEvents[i].EventName(), entry.EventTypeName)
		assert.Equal(t, i, entry.Sequence)
		assert.Equal(t, entity.EventStateInFlight, entry.State)
		assert.Equal(t, "worker-a", entry.ClaimedBy)
		require.NotNil(t, entry.ClaimedAt)
	}

	again, err := log.ClaimPending(ctx, "worker-b", 10, time.Now(), time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestClaimPendingHonoursLimit(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	log := NewEventLog(db)
	savePaidOrder(t, db)

	claimed, err := log.ClaimPending(ctx, "worker-a", 2, time.Now(), time.Minute)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)

	rest, err := log.ClaimPending(ctx, "worker-a", 2, time.Now(), time.Minute)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestClaimPendingValidatesArguments(t *testing.T) {
	log := NewEventLog(openTestDB(t))
	ctx := context.Background()

	_, err := log.ClaimPending(ctx, "", 1, time.Now(), time.Minute)
	assert.Error(t, err)
	_, err = log.ClaimPending(ctx, "w", 0, time.Now(), time.Minute)
	assert.Error(t, err)
	_, err = log.ClaimPending(ctx, "w", 1, time.Now(), 0)
	assert.Error(t, err)
}

func TestConcurrentClaimsNeverOverlap(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	log := NewEventLog(db)
	for i := 0; i < 4; i++ {
		savePaidOrder(t, db)
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				claimed, err := log.ClaimPending(ctx, worker, 2, time.Now(), time.Minute)
				if err != nil || len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, e := range claimed {
					seen[e.EventID]++
				}
				mu.Unlock()
			}
		}(string(rune('a' + w)))
	}
	wg.Wait()

	assert.Len(t, seen, 12)
	for id, n := range seen {
		assert.Equal(t, 1, n, "entry %s claimed more than once", id)
	}
}

func TestMarkPublished(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	log := NewEventLog(db)
	savePaidOrder(t, db)

	claimed, err := log.ClaimPending(ctx, "worker-a", 1, time.Now(), time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, log.MarkPublished(ctx, claimed[0].EventID, "worker-a", time.Now()))

	entry, err := log.GetEntry(ctx, claimed[0].EventID)
	require.NoError(t, err)
	assert.Equal(t, entity.EventStatePublished, entry.State)
	require.NotNil(t, entry.PublishedAt)
	assert.Empty(t, entry.ClaimedBy)
	assert.Nil(t, entry.ClaimedAt)

	err = log.MarkPublished(ctx, claimed[0].EventID, "worker-a", time.Now())
	require.ErrorIs(t, err, ErrClaimLost)
}

func TestMarkFailedSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	log := NewEventLog(db)
	savePaidOrder(t, db)

	now := time.Now()
	claimed, err := log.ClaimPending(ctx, "worker-a", 3, now, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	retryAt := now.Add(10 * time.Second)
	for _, e := range claimed {
		require.NoError(t, log.MarkFailed(ctx, e.EventID, "worker-a", retryAt, "broker unavailable"))
	}

	entry, err := log.GetEntry(ctx, claimed[0].EventID)
	require.NoError(t, err)
	assert.Equal(t, entity.EventStateFailed, entry.State)
	assert.Equal(t, 1, entry.TimesSent)
	assert.Equal(t, "broker unavailable", entry.LastError)
	assert.Equal(t, retryAt.UnixMilli(), entry.NextAttemptAt.UnixMilli())

	notYet, err := log.ClaimPending(ctx, "worker-a", 3, now.Add(5*time.Second), time.Minute)
	require.NoError(t, err)
	assert.Empty(t, notYet)

	due, err := log.ClaimPending(ctx, "worker-b", 3, now.Add(11*time.Second), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, entryIDs(claimed), entryIDs(due))

	counts, err := log.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[entity.EventStateInFlight])
	assert.Equal(t, 0, counts[entity.EventStateFailed])
}

func TestStuckInFlightEntriesAreReclaimed(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	log := NewEventLog(db)
	savePaidOrder(t, db)

	start := time.Now()
	claimed, err := log.ClaimPending(ctx, "worker-a", 3, start, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	early, err := log.ClaimPending(ctx, "worker-b", 3, start.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.Empty(t, early)

	late, err := log.ClaimPending(ctx, "worker-c", 3, start.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	require.Len(t, late, 3)
	assert.Equal(t, entryIDs(claimed), entryIDs(late))
	for _, e := range late {
		assert.Equal(t, "worker-c", e.ClaimedBy)
		assert.Equal(t, 1, e.TimesSent, "a timed out attempt counts as failed")
	}

	err = log.MarkPublished(ctx, claimed[0].EventID, "worker-a", time.Now())
	require.ErrorIs(t, err, ErrClaimLost)
	require.NoError(t, log.MarkPublished(ctx, claimed[0].EventID, "worker-c", time.Now()))
}

func TestClaimTransactionOnlyTakesItsOwnEntries(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	log := NewEventLog(db)
	first := savePaidOrder(t, db)
	second := savePaidOrder(t, db)

	claimed, err := log.ClaimTransaction(ctx, second.TransactionID, "inline", time.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	for i, e := range claimed {
		assert.Equal(t, second.IntegrationEvents[i].EventID(), e.EventID)
	}

	again, err := log.ClaimTransaction(ctx, second.TransactionID, "inline", time.Now())
	require.NoError(t, err)
	assert.Empty(t, again)

	pending, err := log.ListByState(ctx, entity.EventStatePending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
	assert.Equal(t, first.TransactionID, pending[0].TransactionID)
}

func TestGetEntryNotFound(t *testing.T) {
	_, err := NewEventLog(openTestDB(t)).GetEntry(context.Background(), "missing")
	require.ErrorIs(t, err, entity.ErrNotFound)
}

func TestCountByStateReportsEveryState(t *testing.T) {
	counts, err := NewEventLog(openTestDB(t)).CountByState(context.Background())
	require.NoError(t, err)
	assert.Len(t, counts, 4)
	for _, n := range counts {
		assert.Zero(t, n)
	}
}
