package domain

import "time"

// QueueEntry is one pending physical label job.
//
// Entries are created by Enqueue and only ever mutated by a claim, which flips
// Claimed to true and stamps ClaimedAt/ClaimedBy in the same write.
type QueueEntry struct {
	ID         string       `json:"id"`
	SubjectID  string       `json:"subject_id"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
	AddedBy    string       `json:"added_by,omitempty"`
	Claimed    bool         `json:"claimed"`
	ClaimedAt  *time.Time   `json:"claimed_at,omitempty"`
	ClaimedBy  *string      `json:"claimed_by,omitempty"`
	Payload    LabelPayload `json:"payload"`

	// Created is set only on Enqueue results, for entries that call inserted.
	// A subject that was already pending comes back with Created false.
	Created bool `json:"created,omitempty"`

	// ClaimToken identifies the ConfirmPrinted call that claimed the entry so a
	// retried claim can recognise its own earlier write.
	ClaimToken string `json:"-"`
}

// Before reports whether e sorts ahead of other in FIFO order:
// oldest enqueue time first, ties broken by id.
func (e *QueueEntry) Before(other *QueueEntry) bool {
	if !e.EnqueuedAt.Equal(other.EnqueuedAt) {
		return e.EnqueuedAt.Before(other.EnqueuedAt)
	}
	return e.ID < other.ID
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (e *QueueEntry) Clone() *QueueEntry {
	c := *e
	c.Payload = e.Payload.Clone()
	if e.ClaimedAt != nil {
		t := *e.ClaimedAt
		c.ClaimedAt = &t
	}
	if e.ClaimedBy != nil {
		s := *e.ClaimedBy
		c.ClaimedBy = &s
	}
	return &c
}

// EnqueueItem is what the order-approval trigger hands over: the subject being
// labelled plus the payload snapshot taken at approval time.
type EnqueueItem struct {
	SubjectID string       `json:"subject_id" validate:"required,max=128,subject_id"`
	Payload   LabelPayload `json:"payload"`
}

// PrintBatch is the candidate batch offered to the printing UI.
// Fetching it has no side effects; only ConfirmPrinted consumes entries.
type PrintBatch struct {
	Entries  []*QueueEntry `json:"entries"`
	Complete bool          `json:"complete"`
	Warning  string        `json:"warning,omitempty"`
	Size     int           `json:"batch_size"`
}

// IDs returns the entry ids of the batch in print order.
func (b *PrintBatch) IDs() []string {
	ids := make([]string, len(b.Entries))
	for i, e := range b.Entries {
		ids[i] = e.ID
	}
	return ids
}

// ConfirmResult reports the outcome of a ConfirmPrinted call. A non-empty
// AlreadyClaimed is a partial-success signal, not an error: another terminal
// (or an earlier submission) claimed those entries first.
type ConfirmResult struct {
	Claimed        []string `json:"claimed"`
	AlreadyClaimed []string `json:"already_claimed"`
}

// Partial reports whether some requested entries were lost to another claimant.
func (r *ConfirmResult) Partial() bool { return len(r.AlreadyClaimed) > 0 }

// QueueStatus is the aggregate view used by the printing UI header.
type QueueStatus struct {
	Total           int    `json:"total"`
	ReadyToPrint    int    `json:"ready_to_print"`
	RequiresWarning bool   `json:"requires_warning"`
	BatchSize       int    `json:"batch_size"`
	Message         string `json:"message,omitempty"`
}

// QueuePage is one page of unclaimed entries in FIFO order.
type QueuePage struct {
	Entries []*QueueEntry `json:"entries"`
	Total   int           `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}
