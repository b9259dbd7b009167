package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ricirt/print-queue/internal/domain"
)

// DBTX is the subset of *pgxpool.Pool the store needs. Tests substitute a
// pgxmock pool.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Observer receives the outcome of every store round-trip.
type Observer func(op string, elapsed time.Duration, err error)

// enqueuePasses bounds how often Enqueue re-inserts subjects whose existing
// entry was claimed between the insert and the read-back.
const enqueuePasses = 3

const entryColumns = `id::text, subject_id, enqueued_at, added_by, payload`

type PgQueueStore struct {
	db      DBTX
	timeout time.Duration
	observe Observer
}

// NewPgQueueStore returns a QueueStore backed by PostgreSQL. Every round-trip
// is bounded by timeout; exceeding it is reported as a retryable storage error.
func NewPgQueueStore(db DBTX, timeout time.Duration) *PgQueueStore {
	return &PgQueueStore{db: db, timeout: timeout, observe: func(string, time.Duration, error) {}}
}

// WithObserver installs a hook called after each round-trip (metrics).
func (r *PgQueueStore) WithObserver(o Observer) *PgQueueStore {
	if o != nil {
		r.observe = o
	}
	return r
}

func (r *PgQueueStore) begin(ctx context.Context, op string) (context.Context, func(*error)) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	return ctx, func(errp *error) {
		cancel()
		r.observe(op, time.Since(start), *errp)
	}
}

// Enqueue inserts one row per subject with ON CONFLICT DO NOTHING against the
// partial unique index on (subject_id) WHERE claimed = false, then reads the
// unclaimed rows back. Each insert is independently idempotent, so a retry
// after a partial failure cannot create duplicates.
func (r *PgQueueStore) Enqueue(ctx context.Context, items []domain.EnqueueItem, actor string) (_ []*domain.QueueEntry, err error) {
	ctx, done := r.begin(ctx, OpEnqueue)
	defer done(&err)

	bySubject := make(map[string]domain.EnqueueItem, len(items))
	pending := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := bySubject[it.SubjectID]; ok {
			continue
		}
		bySubject[it.SubjectID] = it
		pending = append(pending, it.SubjectID)
	}

	found := make(map[string]*domain.QueueEntry, len(pending))
	inserted := make(map[string]bool, len(pending))
	for pass := 0; pass < enqueuePasses && len(pending) > 0; pass++ {
		now := time.Now().UTC().Truncate(time.Microsecond)
		for _, subject := range pending {
			id, err := r.insert(ctx, bySubject[subject], actor, now)
			if err != nil {
				return nil, err
			}
			if id != "" {
				inserted[id] = true
			}
		}

		entries, err := r.unclaimedBySubject(ctx, pending)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			e.Created = inserted[e.ID]
			found[e.SubjectID] = e
		}

		// Anything still missing had its existing entry claimed after our
		// insert was skipped; go round again so the request is not dropped.
		next := pending[:0]
		for _, subject := range pending {
			if _, ok := found[subject]; !ok {
				next = append(next, subject)
			}
		}
		pending = next
	}
	if len(pending) > 0 {
		return nil, domain.StorageError(errors.Newf("%d subjects could not be enqueued", len(pending)), OpEnqueue)
	}

	result := make([]*domain.QueueEntry, 0, len(found))
	for _, e := range found {
		result = append(result, e)
	}
	sortFIFO(result)
	return result, nil
}

// insert returns the new entry id when a row was written and "" when the
// subject already had an unclaimed entry.
func (r *PgQueueStore) insert(ctx context.Context, it domain.EnqueueItem, actor string, now time.Time) (string, error) {
	payload, err := json.Marshal(it.Payload)
	if err != nil {
		return "", errors.Wrap(err, "encode payload")
	}
	var id string
	err = r.db.QueryRow(ctx, `
		INSERT INTO print_queue (id, subject_id, enqueued_at, added_by, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_id) WHERE claimed = false DO NOTHING
		RETURNING id::text`,
		newEntryID(), it.SubjectID, now, actor, payload,
	).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, pgx.ErrNoRows), isUniqueViolation(err):
		return "", nil
	default:
		return "", domain.StorageError(err, "insert queue entry")
	}
}

func (r *PgQueueStore) unclaimedBySubject(ctx context.Context, subjects []string) ([]*domain.QueueEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM print_queue
		WHERE claimed = false AND subject_id = ANY($1)
		ORDER BY enqueued_at, id`, subjects)
	if err != nil {
		return nil, domain.StorageError(err, "read back queue entries")
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *PgQueueStore) ListUnclaimed(ctx context.Context, limit, offset int) (_ []*domain.QueueEntry, err error) {
	ctx, done := r.begin(ctx, OpListUnclaimed)
	defer done(&err)
	return r.oldest(ctx, limit, offset)
}

func (r *PgQueueStore) OldestBatch(ctx context.Context, n int) (_ []*domain.QueueEntry, err error) {
	ctx, done := r.begin(ctx, OpOldestBatch)
	defer done(&err)
	return r.oldest(ctx, n, 0)
}

func (r *PgQueueStore) oldest(ctx context.Context, limit, offset int) ([]*domain.QueueEntry, error) {
	if limit <= 0 {
		return []*domain.QueueEntry{}, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM print_queue
		WHERE claimed = false
		ORDER BY enqueued_at, id
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, domain.StorageError(err, "list unclaimed entries")
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ClaimBatch is the only path from unclaimed to claimed. The UPDATE's
// "claimed = false" predicate makes it a compare-and-swap per row: when two
// terminals race, Postgres row locking lets exactly one UPDATE match each row.
// Rows already carrying this call's token are reported as claimed too, so a
// retry after a lost response does not mistake its own write for a loss.
func (r *PgQueueStore) ClaimBatch(ctx context.Context, ids []string, actor, token string) (_ []string, _ []string, err error) {
	ctx, done := r.begin(ctx, OpClaimBatch)
	defer done(&err)

	rows, err := r.db.Query(ctx, `
		WITH won AS (
			UPDATE print_queue
			SET claimed = true, claimed_at = $2, claimed_by = $3, claim_token = $4
			WHERE id = ANY($1::uuid[]) AND claimed = false
			RETURNING id
		)
		SELECT id::text FROM won
		UNION
		SELECT id::text FROM print_queue
		WHERE id = ANY($1::uuid[]) AND claim_token = $4`,
		ids, time.Now().UTC(), actor, token,
	)
	if err != nil {
		return nil, nil, domain.StorageError(err, "claim batch")
	}
	defer rows.Close()

	won := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, nil, domain.StorageError(err, "scan claimed id")
		}
		won[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, nil, domain.StorageError(err, "claim batch")
	}

	claimed, already := splitClaimed(ids, won)
	return claimed, already, nil
}

func (r *PgQueueStore) Remove(ctx context.Context, ids []string) (_ int, err error) {
	ctx, done := r.begin(ctx, OpRemove)
	defer done(&err)

	tag, err := r.db.Exec(ctx, `DELETE FROM print_queue WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return 0, domain.StorageError(err, "remove queue entries")
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgQueueStore) Count(ctx context.Context) (_ int, err error) {
	ctx, done := r.begin(ctx, OpCount)
	defer done(&err)

	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM print_queue WHERE claimed = false`).Scan(&n); err != nil {
		return 0, domain.StorageError(err, "count queue entries")
	}
	return n, nil
}

func (r *PgQueueStore) Ping(ctx context.Context) (err error) {
	ctx, done := r.begin(ctx, OpPing)
	defer done(&err)
	return domain.StorageError(r.db.Ping(ctx), OpPing)
}

// ---- helpers ----

// scanEntries reads unclaimed rows selected with entryColumns.
func scanEntries(rows pgx.Rows) ([]*domain.QueueEntry, error) {
	result := []*domain.QueueEntry{}
	for rows.Next() {
		var (
			e       domain.QueueEntry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.SubjectID, &e.EnqueuedAt, &e.AddedBy, &payload); err != nil {
			return nil, domain.StorageError(err, "scan queue entry")
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			// Keep the row; the batch manager filters entries whose payload
			// does not validate.
			e.Payload = domain.LabelPayload{}
		}
		e.EnqueuedAt = e.EnqueuedAt.UTC()
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError(err, "iterate queue entries")
	}
	return result, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

var _ QueueStore = (*PgQueueStore)(nil)
