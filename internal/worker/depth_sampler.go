package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultSampleInterval is used when NewDepthSampler is given a non-positive
// interval.
const DefaultSampleInterval = 15 * time.Second

// Counter is the read-only slice of the queue store the sampler needs.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// DepthSampler polls the queue store for the number of unclaimed entries and
// publishes it through onSample (the depth gauge). It never mutates the queue;
// a failed sample keeps the previous value.
type DepthSampler struct {
	store    Counter
	interval time.Duration
	timeout  time.Duration
	onSample func(depth int)
	logger   *zap.Logger
}

func NewDepthSampler(
	store Counter,
	interval time.Duration,
	onSample func(depth int),
	logger *zap.Logger,
) *DepthSampler {
	if onSample == nil {
		onSample = func(int) {}
	}
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &DepthSampler{
		store:    store,
		interval: interval,
		timeout:  max(interval/2, time.Second),
		onSample: onSample,
		logger:   logger,
	}
}

// Run samples once immediately, then every interval.
// Stops cleanly when ctx is cancelled.
func (ds *DepthSampler) Run(ctx context.Context) {
	ticker := time.NewTicker(ds.interval)
	defer ticker.Stop()

	ds.logger.Info("depth sampler started", zap.Duration("interval", ds.interval))
	ds.sample(ctx)

	for {
		select {
		case <-ctx.Done():
			ds.logger.Info("depth sampler stopping")
			return
		case <-ticker.C:
			ds.sample(ctx)
		}
	}
}

func (ds *DepthSampler) sample(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, ds.timeout)
	defer cancel()

	depth, err := ds.store.Count(ctx)
	if err != nil {
		// Shutdown interrupting a sample is not worth a warning.
		if parent.Err() == nil {
			ds.logger.Warn("queue depth sample failed", zap.Error(err))
		}
		return
	}
	ds.onSample(depth)
}
