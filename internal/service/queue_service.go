package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ricirt/print-queue/internal/batch"
	"github.com/ricirt/print-queue/internal/cache"
	"github.com/ricirt/print-queue/internal/domain"
	"github.com/ricirt/print-queue/internal/reqctx"
	"github.com/ricirt/print-queue/internal/repository"
	"github.com/ricirt/print-queue/internal/retry"
)

// Cache keys. Everything the service caches lives under keyPrefix so one
// InvalidatePattern call clears it after any mutation.
const (
	keyPrefix    = "queue:"
	keyNextBatch = keyPrefix + "next_batch"
	keyStatus    = keyPrefix + "status"
	keyListFmt   = keyPrefix + "list:%d:%d"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Hooks carries optional observation callbacks (metrics) so the service stays
// free of any metrics import. Nil fields are no-ops.
type Hooks struct {
	OnEnqueued    func(n int)
	OnClaimed     func(n int)
	OnContested   func(n int)
	OnRemoved     func(n int)
	OnCacheLookup func(key string, hit bool)
	OnRetry       func(op string)
}

// Options tunes caching and retries. Zero values fall back to defaults.
type Options struct {
	BatchTTL    time.Duration
	ReadTTL     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	// ReadTimeout bounds a shared cache-miss read. It runs detached from the
	// caller that started it so other waiters are not failed by that caller
	// going away.
	ReadTimeout time.Duration
	Hooks       Hooks
}

// QueueService is the only entry point external callers use. It composes the
// queue store, the batch manager and the cache port, and owns retries and
// cache invalidation. Claim decisions are always made by the store; the cache
// can at worst suggest a stale batch.
type QueueService struct {
	store   repository.QueueStore
	batches *batch.Manager
	cache   cache.Cache
	opts    Options
	logger  *zap.Logger

	// flight collapses concurrent cache misses for the same key into one store read.
	flight singleflight.Group
	// gen is bumped on every invalidation; a read that started under an older
	// generation does not write its result back into the cache.
	gen atomic.Uint64
}

func NewQueueService(
	store repository.QueueStore,
	batches *batch.Manager,
	c cache.Cache,
	logger *zap.Logger,
	opts Options,
) *QueueService {
	if c == nil {
		c = cache.Noop{}
	}
	if opts.BatchTTL <= 0 {
		opts.BatchTTL = 30 * time.Second
	}
	if opts.ReadTTL <= 0 {
		opts.ReadTTL = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 100 * time.Millisecond
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	opts.Hooks = opts.Hooks.withDefaults()

	return &QueueService{
		store:   store,
		batches: batches,
		cache:   c,
		opts:    opts,
		logger:  logger,
	}
}

// AddToQueue enqueues label jobs for the given subjects. It is idempotent:
// subjects that already have an unclaimed entry keep it, and the existing
// entry is returned alongside any new ones, in FIFO order.
func (s *QueueService) AddToQueue(ctx context.Context, items []domain.EnqueueItem, actor string) ([]*domain.QueueEntry, error) {
	if err := domain.ValidateActor(actor); err != nil {
		return nil, err
	}
	items, err := domain.NormalizeEnqueueItems(items)
	if err != nil {
		return nil, err
	}

	log := s.logger.With(reqctx.Fields(ctx)...)
	entries, err := retry.Do(ctx, s.retryPolicy(log, "enqueue"), func(ctx context.Context) ([]*domain.QueueEntry, error) {
		return s.store.Enqueue(ctx, items, actor)
	})
	if err != nil {
		log.Error("enqueue failed",
			zap.Int("items", len(items)),
			zap.String("actor", actor),
			zap.Error(err),
		)
		return nil, errors.Wrap(err, "add to queue")
	}

	created := 0
	for _, e := range entries {
		if e.Created {
			created++
		}
	}

	s.invalidate(ctx)
	s.opts.Hooks.OnEnqueued(created)
	log.Info("subjects enqueued",
		zap.Int("requested", len(items)),
		zap.Int("created", created),
		zap.String("actor", actor),
	)
	return entries, nil
}

// GetNextBatch returns the current candidate batch. It is read-only and may
// be called any number of times; nothing is consumed until ConfirmPrinted.
func (s *QueueService) GetNextBatch(ctx context.Context) (*domain.PrintBatch, error) {
	var b domain.PrintBatch
	if s.cacheGet(ctx, keyNextBatch, &b) {
		return &b, nil
	}

	v, err, _ := s.flight.Do(keyNextBatch, func() (any, error) {
		ctx, cancel := s.sharedReadContext(ctx)
		defer cancel()

		gen := s.gen.Load()
		computed, err := s.batches.ComputeBatch(ctx)
		if err != nil {
			return nil, err
		}
		s.cacheSet(ctx, gen, keyNextBatch, computed, s.opts.BatchTTL)
		return computed, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "compute next batch")
	}
	return v.(*domain.PrintBatch), nil
}

// ConfirmPrinted commits a printed batch. It must only be called after the
// physical labels were visually confirmed. Entries another terminal claimed
// first are reported in AlreadyClaimed and do not fail the call; only when
// nothing at all could be claimed is a *domain.NothingClaimedError returned.
func (s *QueueService) ConfirmPrinted(ctx context.Context, ids []string, actor string) (*domain.ConfirmResult, error) {
	if err := domain.ValidateActor(actor); err != nil {
		return nil, err
	}
	ids, err := domain.NormalizeEntryIDs(ids)
	if err != nil {
		return nil, err
	}

	// One token for every attempt of this call, so a retry after a lost
	// response recognises rows its earlier attempt already claimed.
	token := uuid.NewString()
	log := s.logger.With(reqctx.Fields(ctx)...)
	res, err := retry.Do(ctx, s.retryPolicy(log, "claim"), func(ctx context.Context) (*domain.ConfirmResult, error) {
		claimed, already, err := s.store.ClaimBatch(ctx, ids, actor, token)
		if err != nil {
			return nil, err
		}
		return &domain.ConfirmResult{Claimed: claimed, AlreadyClaimed: already}, nil
	})
	if err != nil {
		log.Error("confirm printed failed",
			zap.Strings("ids", ids),
			zap.String("actor", actor),
			zap.Error(err),
		)
		return nil, errors.Wrap(err, "confirm printed")
	}

	// The caller's view was stale either way; drop cached suggestions.
	s.invalidate(ctx)

	if res.Partial() {
		log.Warn("some entries were already claimed",
			zap.Strings("already_claimed", res.AlreadyClaimed),
			zap.Int("claimed", len(res.Claimed)),
			zap.String("actor", actor),
		)
		s.opts.Hooks.OnContested(len(res.AlreadyClaimed))
	}
	if len(res.Claimed) == 0 {
		return nil, domain.NothingToConfirm(res.AlreadyClaimed)
	}

	s.opts.Hooks.OnClaimed(len(res.Claimed))
	log.Info("batch confirmed printed",
		zap.Strings("claimed", res.Claimed),
		zap.String("actor", actor),
	)
	return res, nil
}

// RemoveFromQueue hard-deletes entries for manual queue correction. Removing
// ids that no longer exist is not an error.
func (s *QueueService) RemoveFromQueue(ctx context.Context, ids []string) (int, error) {
	ids, err := domain.NormalizeEntryIDs(ids)
	if err != nil {
		return 0, err
	}

	log := s.logger.With(reqctx.Fields(ctx)...)
	removed, err := retry.Do(ctx, s.retryPolicy(log, "remove"), func(ctx context.Context) (int, error) {
		return s.store.Remove(ctx, ids)
	})
	if err != nil {
		return 0, errors.Wrap(err, "remove from queue")
	}

	s.invalidate(ctx)
	s.opts.Hooks.OnRemoved(removed)
	log.Info("entries removed from queue",
		zap.Strings("ids", ids),
		zap.Int("removed", removed),
	)
	return removed, nil
}

// GetQueueStatus returns aggregate counts. Reads fail fast on storage errors;
// the UI polls again shortly anyway.
func (s *QueueService) GetQueueStatus(ctx context.Context) (*domain.QueueStatus, error) {
	var st domain.QueueStatus
	if s.cacheGet(ctx, keyStatus, &st) {
		return &st, nil
	}

	v, err, _ := s.flight.Do(keyStatus, func() (any, error) {
		ctx, cancel := s.sharedReadContext(ctx)
		defer cancel()

		gen := s.gen.Load()
		total, err := s.store.Count(ctx)
		if err != nil {
			return nil, err
		}
		_, requiresWarning, msg := s.batches.ValidateCount(total)
		st := &domain.QueueStatus{
			Total:           total,
			ReadyToPrint:    min(total, s.batches.Size()),
			RequiresWarning: requiresWarning,
			BatchSize:       s.batches.Size(),
			Message:         msg,
		}
		s.cacheSet(ctx, gen, keyStatus, st, s.opts.ReadTTL)
		return st, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "queue status")
	}
	return v.(*domain.QueueStatus), nil
}

// GetQueue returns one page of unclaimed entries in FIFO order.
func (s *QueueService) GetQueue(ctx context.Context, limit, offset int) (*domain.QueuePage, error) {
	if limit < 0 || offset < 0 {
		return nil, domain.ErrInvalidPage
	}
	if limit == 0 {
		limit = DefaultPageLimit
	}
	limit = min(limit, MaxPageLimit)

	key := fmt.Sprintf(keyListFmt, limit, offset)
	var page domain.QueuePage
	if s.cacheGet(ctx, key, &page) {
		return &page, nil
	}

	v, err, _ := s.flight.Do(key, func() (any, error) {
		ctx, cancel := s.sharedReadContext(ctx)
		defer cancel()

		gen := s.gen.Load()
		entries, err := s.store.ListUnclaimed(ctx, limit, offset)
		if err != nil {
			return nil, err
		}
		total, err := s.store.Count(ctx)
		if err != nil {
			return nil, err
		}
		p := &domain.QueuePage{Entries: entries, Total: total, Limit: limit, Offset: offset}
		s.cacheSet(ctx, gen, key, p, s.opts.ReadTTL)
		return p, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list queue")
	}
	return v.(*domain.QueuePage), nil
}

// Ping checks the queue store; used by the readiness probe.
func (s *QueueService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---- private helpers ----

// sharedReadContext detaches a singleflight read from the caller that happened
// to start it: every waiter shares the result, so one waiter's cancellation
// must not fail the rest. ReadTimeout bounds the detached read instead.
func (s *QueueService) sharedReadContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opts.ReadTimeout)
}

func (s *QueueService) retryPolicy(log *zap.Logger, op string) retry.Policy {
	return retry.Policy{
		MaxAttempts: s.opts.MaxAttempts,
		BaseDelay:   s.opts.BaseDelay,
		Retryable:   domain.IsRetryable,
		OnRetry: func(err error, attempt int, delay time.Duration) {
			s.opts.Hooks.OnRetry(op)
			log.Warn("retrying store operation",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
	}
}

// cacheGet decodes a cached value into dst. Any cache failure counts as a miss.
func (s *QueueService) cacheGet(ctx context.Context, key string, dst any) bool {
	b, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		ok = false
	}
	if ok {
		if err := json.Unmarshal(b, dst); err != nil {
			s.logger.Warn("discarding undecodable cache value", zap.String("key", key), zap.Error(err))
			ok = false
		}
	}
	s.opts.Hooks.OnCacheLookup(key, ok)
	return ok
}

// cacheSet stores v unless an invalidation happened since gen was read.
func (s *QueueService) cacheSet(ctx context.Context, gen uint64, key string, v any, ttl time.Duration) {
	if s.gen.Load() != gen {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, b, ttl); err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// invalidate drops every cached queue view. Failures are logged and
// swallowed: a mutation that reached the store has succeeded regardless.
func (s *QueueService) invalidate(ctx context.Context) {
	s.gen.Add(1)
	if err := s.cache.InvalidatePattern(ctx, keyPrefix); err != nil {
		s.logger.Warn("cache invalidation failed", zap.Error(err))
	}
}

func (h Hooks) withDefaults() Hooks {
	if h.OnEnqueued == nil {
		h.OnEnqueued = func(int) {}
	}
	if h.OnClaimed == nil {
		h.OnClaimed = func(int) {}
	}
	if h.OnContested == nil {
		h.OnContested = func(int) {}
	}
	if h.OnRemoved == nil {
		h.OnRemoved = func(int) {}
	}
	if h.OnCacheLookup == nil {
		h.OnCacheLookup = func(string, bool) {}
	}
	if h.OnRetry == nil {
		h.OnRetry = func(string) {}
	}
	return h
}
