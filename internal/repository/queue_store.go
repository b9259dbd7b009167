package repository

import (
	"context"

	"github.com/ricirt/print-queue/internal/domain"
)

// QueueStore is the durable source of truth for queue entries.
// The pgx implementation is in pg_queue_store.go; memory_queue_store.go holds
// an in-process implementation with identical claim semantics used by tests
// and single-node development.
//
// Every implementation must make ClaimBatch a single atomic conditional
// update: an entry can move from unclaimed to claimed exactly once, no matter
// how many callers race for it.
type QueueStore interface {
	// Enqueue creates an entry for every subject that has no unclaimed entry
	// yet and returns the unclaimed entries for all requested subjects, new or
	// pre-existing, in FIFO order.
	Enqueue(ctx context.Context, items []domain.EnqueueItem, actor string) ([]*domain.QueueEntry, error)
	ListUnclaimed(ctx context.Context, limit, offset int) ([]*domain.QueueEntry, error)
	OldestBatch(ctx context.Context, n int) ([]*domain.QueueEntry, error)
	// ClaimBatch marks the given entries claimed by actor. claimed holds the
	// ids this call (or an earlier attempt carrying the same token) claimed;
	// alreadyClaimed holds the rest, claimed by someone else or gone.
	ClaimBatch(ctx context.Context, ids []string, actor, token string) (claimed, alreadyClaimed []string, err error)
	Remove(ctx context.Context, ids []string) (int, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

// splitClaimed partitions requested ids into those present in won and the
// rest, keeping request order.
func splitClaimed(requested []string, won map[string]bool) (claimed, alreadyClaimed []string) {
	claimed = make([]string, 0, len(won))
	alreadyClaimed = make([]string, 0, max(0, len(requested)-len(won)))
	for _, id := range requested {
		if won[id] {
			claimed = append(claimed, id)
		} else {
			alreadyClaimed = append(alreadyClaimed, id)
		}
	}
	return claimed, alreadyClaimed
}
