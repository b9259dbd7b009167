package ratelimiter

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// maxTrackedActors bounds memory: the least recently seen actor's bucket is
// evicted first, which at worst hands that actor a fresh full bucket.
const maxTrackedActors = 4096

// ActorLimiters holds one token bucket per actor (terminal or approver).
// Each limiter refills at perSec tokens per second up to burst.
type ActorLimiters struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// New creates ActorLimiters granting perSec requests per second per actor with
// the given burst. A non-positive perSec disables limiting.
func New(perSec float64, burst int) *ActorLimiters {
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, *rate.Limiter](maxTrackedActors)
	limit := rate.Limit(perSec)
	if perSec <= 0 {
		limit = rate.Inf
	}
	return &ActorLimiters{
		limiters: cache,
		limit:    limit,
		burst:    max(burst, 1),
	}
}

// Allow reports whether actor may make another request now, consuming a
// token if so. It never blocks.
func (al *ActorLimiters) Allow(actor string) bool {
	return al.limiter(actor).Allow()
}

func (al *ActorLimiters) limiter(actor string) *rate.Limiter {
	al.mu.Lock()
	defer al.mu.Unlock()
	if l, ok := al.limiters.Get(actor); ok {
		return l
	}
	l := rate.NewLimiter(al.limit, al.burst)
	al.limiters.Add(actor, l)
	return l
}
