package batch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ricirt/print-queue/internal/domain"
	"github.com/ricirt/print-queue/internal/repository"
)

// DefaultSize is the number of labels that fit one physical print sheet.
const DefaultSize = 4

const emptyMessage = "queue is empty"

// Manager applies the printing policy on top of the queue store: a fixed
// batch size, integrity filtering, and the partial-batch warning. It holds no
// state of its own.
type Manager struct {
	store  repository.QueueStore
	size   int
	logger *zap.Logger
}

func NewManager(store repository.QueueStore, size int, logger *zap.Logger) *Manager {
	if size < 1 {
		size = DefaultSize
	}
	return &Manager{store: store, size: size, logger: logger}
}

// Size returns the configured batch size.
func (m *Manager) Size() int { return m.size }

// ComputeBatch returns the oldest BatchSize unclaimed entries whose payload is
// printable. Entries with a broken payload are logged and left out; they stay
// in the queue for an operator to remove.
func (m *Manager) ComputeBatch(ctx context.Context) (*domain.PrintBatch, error) {
	entries, err := m.store.OldestBatch(ctx, m.size)
	if err != nil {
		return nil, err
	}

	valid := make([]*domain.QueueEntry, 0, len(entries))
	for _, e := range entries {
		if err := e.Payload.Validate(); err != nil {
			m.logger.Warn("skipping queue entry with invalid payload",
				zap.String("entry_id", e.ID),
				zap.String("subject_id", e.SubjectID),
				zap.Error(err),
			)
			continue
		}
		valid = append(valid, e)
	}

	_, _, warning := m.ValidateCount(len(valid))
	return &domain.PrintBatch{
		Entries:  valid,
		Complete: len(valid) == m.size,
		Warning:  warning,
		Size:     m.size,
	}, nil
}

// ValidateCount applies the batch thresholds with this manager's size.
func (m *Manager) ValidateCount(n int) (ok, requiresWarning bool, message string) {
	return ValidateCount(n, m.size)
}

// ValidateCount is the single definition of the queue-size thresholds:
//
//	n == 0        -> not printable, "queue is empty"
//	0 < n < size  -> printable after explicit confirmation (partial batch)
//	n >= size     -> a full batch is ready, no message
func ValidateCount(n, size int) (ok, requiresWarning bool, message string) {
	switch {
	case n <= 0:
		return false, false, emptyMessage
	case n < size:
		return true, true, PartialMessage(n, size)
	default:
		return true, false, ""
	}
}

// PartialMessage is the advisory shown before printing a partial batch.
func PartialMessage(n, size int) string {
	return fmt.Sprintf("only %d of %d items available; proceed with a partial batch?", n, size)
}
