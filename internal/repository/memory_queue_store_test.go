package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricirt/print-queue/internal/domain"
	"github.com/ricirt/print-queue/internal/repository"
)

func enqueueItems(subjects ...string) []domain.EnqueueItem {
	out := make([]domain.EnqueueItem, len(subjects))
	for i, s := range subjects {
		out[i] = domain.EnqueueItem{
			SubjectID: s,
			Payload: domain.LabelPayload{
				Version:         domain.PayloadVersion,
				CustomerName:    "Acme",
				ItemDescription: "Widget " + s,
			},
		}
	}
	return out
}

func subjects(entries []*domain.QueueEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.SubjectID
	}
	return out
}

func TestMemoryStore_EnqueueIsIdempotentPerSubject(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	ctx := context.Background()

	first, err := store.Enqueue(ctx, enqueueItems("A", "B"), "u1")
	require.NoError(t, err)
	second, err := store.Enqueue(ctx, enqueueItems("B", "B", "C"), "u2")
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "C"}, subjects(second))
	assert.Equal(t, first[1].ID, second[0].ID)
	assert.Equal(t, "u1", second[0].AddedBy, "existing entry keeps its original actor")
	assert.True(t, first[0].Created)
	assert.False(t, second[0].Created, "B was already pending")
	assert.True(t, second[1].Created)

	stored, ok := store.Get(second[1].ID)
	require.True(t, ok)
	assert.False(t, stored.Created, "the flag belongs to the Enqueue result only")

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMemoryStore_OldestBatchIsFIFO(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := repository.NewMemoryQueueStore().WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	ctx := context.Background()

	for _, s := range []string{"S1", "S2", "S3", "S4", "S5"} {
		_, err := store.Enqueue(ctx, enqueueItems(s), "u")
		require.NoError(t, err)
	}

	batch, err := store.OldestBatch(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "S2", "S3", "S4"}, subjects(batch))

	page, err := store.ListUnclaimed(ctx, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"S4", "S5"}, subjects(page))

	page, err = store.ListUnclaimed(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemoryStore_ReturnedEntriesAreCopies(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	ctx := context.Background()

	entries, err := store.Enqueue(ctx, enqueueItems("A"), "u")
	require.NoError(t, err)
	entries[0].Payload.CustomerName = "mutated"

	batch, err := store.OldestBatch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Acme", batch[0].Payload.CustomerName)
}

func TestMemoryStore_ClaimBatch(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	ctx := context.Background()

	entries, err := store.Enqueue(ctx, enqueueItems("A", "B"), "u")
	require.NoError(t, err)
	a, b := entries[0].ID, entries[1].ID

	claimed, already, err := store.ClaimBatch(ctx, []string{a}, "t1", "tok-1")
	require.NoError(t, err)
	assert.Equal(t, []string{a}, claimed)
	assert.Empty(t, already)

	claimed, already, err = store.ClaimBatch(ctx, []string{a, b, "00000000-0000-0000-0000-000000000000"}, "t2", "tok-2")
	require.NoError(t, err)
	assert.Equal(t, []string{b}, claimed)
	assert.Equal(t, []string{a, "00000000-0000-0000-0000-000000000000"}, already)

	got, ok := store.Get(a)
	require.True(t, ok)
	assert.Equal(t, "t1", *got.ClaimedBy)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_ClaimBatchSameTokenIsIdempotent(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	ctx := context.Background()

	entries, err := store.Enqueue(ctx, enqueueItems("A"), "u")
	require.NoError(t, err)
	id := entries[0].ID

	_, _, err = store.ClaimBatch(ctx, []string{id}, "t1", "tok")
	require.NoError(t, err)
	claimed, already, err := store.ClaimBatch(ctx, []string{id}, "t1", "tok")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, claimed)
	assert.Empty(t, already)
}

func TestMemoryStore_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	ctx := context.Background()

	entries, err := store.Enqueue(ctx, enqueueItems("A", "B", "C", "D"), "u")
	require.NoError(t, err)
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	const racers = 10
	var (
		mu   sync.Mutex
		wins = map[string]int{}
		wg   sync.WaitGroup
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claimed, _, err := store.ClaimBatch(ctx, ids, "t", string(rune('a'+i)))
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range claimed {
				wins[id]++
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, wins, len(ids))
	for id, n := range wins {
		assert.Equal(t, 1, n, "entry %s claimed %d times", id, n)
	}
}

func TestMemoryStore_ClaimedSubjectCanBeQueuedAgain(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	ctx := context.Background()

	first, err := store.Enqueue(ctx, enqueueItems("A"), "u")
	require.NoError(t, err)
	_, _, err = store.ClaimBatch(ctx, []string{first[0].ID}, "t", "tok")
	require.NoError(t, err)

	again, err := store.Enqueue(ctx, enqueueItems("A"), "u")
	require.NoError(t, err)
	assert.NotEqual(t, first[0].ID, again[0].ID)

	old, ok := store.Get(first[0].ID)
	require.True(t, ok)
	assert.True(t, old.Claimed, "the claimed history row survives")
}

func TestMemoryStore_Remove(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	ctx := context.Background()

	entries, err := store.Enqueue(ctx, enqueueItems("A", "B"), "u")
	require.NoError(t, err)

	n, err := store.Remove(ctx, []string{entries[0].ID, "00000000-0000-0000-0000-000000000000"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := store.OldestBatch(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, subjects(left))

	_, ok := store.Get(entries[0].ID)
	assert.False(t, ok)
}

func TestMemoryStore_InjectFault(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	ctx := context.Background()

	store.InjectFault(repository.OpCount, errors.New("connection refused"), 2)

	for i := 0; i < 2; i++ {
		_, err := store.Count(ctx)
		require.Error(t, err)
		assert.True(t, domain.IsRetryable(err))
	}
	_, err := store.Count(ctx)
	assert.NoError(t, err, "fault clears after the configured number of calls")

	store.InjectFault(repository.OpPing, errors.New("down"), 0)
	assert.Error(t, store.Ping(ctx))
	assert.Error(t, store.Ping(ctx))
	store.InjectFault(repository.OpPing, nil, 0)
	assert.NoError(t, store.Ping(ctx))
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Enqueue(ctx, enqueueItems("A"), "u")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStorage))
}
