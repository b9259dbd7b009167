package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ricirt/print-queue/internal/domain"
	"github.com/ricirt/print-queue/internal/repository"
	"github.com/ricirt/print-queue/internal/worker"
)

func TestDepthSampler_PublishesCount(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	_, err := store.Enqueue(context.Background(), []domain.EnqueueItem{
		{SubjectID: "A", Payload: domain.LabelPayload{Version: 1, CustomerName: "c", ItemDescription: "d"}},
		{SubjectID: "B", Payload: domain.LabelPayload{Version: 1, CustomerName: "c", ItemDescription: "d"}},
	}, "approver")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var depth atomic.Int64
	depth.Store(-1)
	ds := worker.NewDepthSampler(store, 10*time.Millisecond, func(n int) { depth.Store(int64(n)) }, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ds.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for depth.Load() != 2 {
		select {
		case <-deadline:
			t.Fatalf("depth never sampled, got %d", depth.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sampler did not stop after cancel")
	}
}

func TestDepthSampler_KeepsLastValueOnError(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	store.InjectFault(repository.OpCount, errors.New("connection refused"), 0)

	var samples atomic.Int64
	ds := worker.NewDepthSampler(store, 5*time.Millisecond, func(int) { samples.Add(1) }, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	ds.Run(ctx)

	if n := samples.Load(); n != 0 {
		t.Fatalf("expected no samples while the store is failing, got %d", n)
	}
}

func TestDepthSampler_DoesNotMutate(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	entries, err := store.Enqueue(context.Background(), []domain.EnqueueItem{
		{SubjectID: "A", Payload: domain.LabelPayload{Version: 1, CustomerName: "c", ItemDescription: "d"}},
	}, "approver")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ds := worker.NewDepthSampler(store, 5*time.Millisecond, nil, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ds.Run(ctx)

	e, ok := store.Get(entries[0].ID)
	if !ok || e.Claimed {
		t.Fatalf("sampler changed the queue: ok=%v entry=%+v", ok, e)
	}
}

func TestDepthSampler_NonPositiveIntervalFallsBack(t *testing.T) {
	store := repository.NewMemoryQueueStore()

	var samples atomic.Int64
	ds := worker.NewDepthSampler(store, 0, func(int) { samples.Add(1) }, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ds.Run(ctx)

	if n := samples.Load(); n != 1 {
		t.Fatalf("expected the immediate sample only, got %d", n)
	}
}
