package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ricirt/print-queue/internal/domain"
)

// Operation names accepted by MemoryQueueStore.InjectFault.
const (
	OpEnqueue       = "enqueue"
	OpListUnclaimed = "list_unclaimed"
	OpOldestBatch   = "oldest_batch"
	OpClaimBatch    = "claim_batch"
	OpRemove        = "remove"
	OpCount         = "count"
	OpPing          = "ping"
)

type fault struct {
	err   error
	times int
}

// MemoryQueueStore is an in-memory QueueStore. A single mutex serialises every
// operation, which gives ClaimBatch the same all-or-nothing conditional update
// semantics as the SQL statement in the Postgres store.
type MemoryQueueStore struct {
	mu      sync.Mutex
	entries map[string]*domain.QueueEntry
	// unclaimed indexes subject id -> entry id for unclaimed entries only;
	// it plays the role of the partial unique index in Postgres.
	unclaimed map[string]string
	now       func() time.Time
	faults    map[string]*fault
}

func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{
		entries:   make(map[string]*domain.QueueEntry),
		unclaimed: make(map[string]string),
		now:       func() time.Time { return time.Now().UTC() },
		faults:    make(map[string]*fault),
	}
}

// WithClock replaces the time source. Intended for tests.
func (m *MemoryQueueStore) WithClock(now func() time.Time) *MemoryQueueStore {
	m.now = now
	return m
}

// InjectFault makes the next `times` calls of op fail with err wrapped as a
// storage error. times <= 0 fails every call until cleared with a nil err.
func (m *MemoryQueueStore) InjectFault(op string, err error, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = &fault{err: err, times: times}
}

// checkFault must be called with m.mu held.
func (m *MemoryQueueStore) checkFault(op string) error {
	f, ok := m.faults[op]
	if !ok {
		return nil
	}
	if f.times > 0 {
		f.times--
		if f.times == 0 {
			delete(m.faults, op)
		}
	}
	return domain.StorageError(f.err, op)
}

func (m *MemoryQueueStore) Enqueue(ctx context.Context, items []domain.EnqueueItem, actor string) ([]*domain.QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.StorageError(err, OpEnqueue)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault(OpEnqueue); err != nil {
		return nil, err
	}

	now := m.now()
	result := make([]*domain.QueueEntry, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if seen[it.SubjectID] {
			continue
		}
		seen[it.SubjectID] = true
		if id, ok := m.unclaimed[it.SubjectID]; ok {
			result = append(result, m.entries[id].Clone())
			continue
		}
		e := &domain.QueueEntry{
			ID:         newEntryID(),
			SubjectID:  it.SubjectID,
			EnqueuedAt: now,
			AddedBy:    actor,
			Payload:    it.Payload.Clone(),
		}
		m.entries[e.ID] = e
		m.unclaimed[e.SubjectID] = e.ID
		created := e.Clone()
		created.Created = true
		result = append(result, created)
	}
	sortFIFO(result)
	return result, nil
}

func (m *MemoryQueueStore) ListUnclaimed(ctx context.Context, limit, offset int) ([]*domain.QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.StorageError(err, OpListUnclaimed)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault(OpListUnclaimed); err != nil {
		return nil, err
	}
	return m.page(limit, offset), nil
}

func (m *MemoryQueueStore) OldestBatch(ctx context.Context, n int) ([]*domain.QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.StorageError(err, OpOldestBatch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault(OpOldestBatch); err != nil {
		return nil, err
	}
	return m.page(n, 0), nil
}

// page must be called with m.mu held.
func (m *MemoryQueueStore) page(limit, offset int) []*domain.QueueEntry {
	all := make([]*domain.QueueEntry, 0, len(m.unclaimed))
	for _, id := range m.unclaimed {
		all = append(all, m.entries[id])
	}
	sortFIFO(all)

	if offset >= len(all) || limit <= 0 {
		return []*domain.QueueEntry{}
	}
	end := min(offset+limit, len(all))
	out := make([]*domain.QueueEntry, 0, end-offset)
	for _, e := range all[offset:end] {
		out = append(out, e.Clone())
	}
	return out
}

func (m *MemoryQueueStore) ClaimBatch(ctx context.Context, ids []string, actor, token string) ([]string, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, domain.StorageError(err, OpClaimBatch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault(OpClaimBatch); err != nil {
		return nil, nil, err
	}

	now := m.now()
	won := make(map[string]bool, len(ids))
	for _, id := range ids {
		e, ok := m.entries[id]
		if !ok {
			continue
		}
		if e.Claimed {
			if token != "" && e.ClaimToken == token {
				won[id] = true
			}
			continue
		}
		claimedAt := now
		claimedBy := actor
		e.Claimed = true
		e.ClaimedAt = &claimedAt
		e.ClaimedBy = &claimedBy
		e.ClaimToken = token
		delete(m.unclaimed, e.SubjectID)
		won[id] = true
	}

	claimed, already := splitClaimed(ids, won)
	return claimed, already, nil
}

func (m *MemoryQueueStore) Remove(ctx context.Context, ids []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.StorageError(err, OpRemove)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault(OpRemove); err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		e, ok := m.entries[id]
		if !ok {
			continue
		}
		if !e.Claimed {
			delete(m.unclaimed, e.SubjectID)
		}
		delete(m.entries, id)
		removed++
	}
	return removed, nil
}

func (m *MemoryQueueStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.StorageError(err, OpCount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault(OpCount); err != nil {
		return 0, err
	}
	return len(m.unclaimed), nil
}

func (m *MemoryQueueStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return domain.StorageError(err, OpPing)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkFault(OpPing)
}

// Get returns a copy of any entry, claimed or not. Test helper; not part of
// QueueStore.
func (m *MemoryQueueStore) Get(id string) (*domain.QueueEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// newEntryID returns a time-ordered UUIDv7 so entries enqueued within the same
// clock tick still sort in creation order.
func newEntryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func sortFIFO(entries []*domain.QueueEntry) {
	slices.SortFunc(entries, func(a, b *domain.QueueEntry) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})
}

var _ QueueStore = (*MemoryQueueStore)(nil)
