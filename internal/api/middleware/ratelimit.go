package middleware

import (
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/ricirt/print-queue/internal/reqctx"
)

// Limiter is satisfied by ratelimiter.ActorLimiters.
type Limiter interface {
	Allow(key string) bool
}

// RateLimit rejects requests with 429 once a caller's bucket is empty.
//
// Every request spends a token from its client address bucket; requests that
// name an actor in X-Actor-ID also spend one from that actor's bucket. The
// header is client-supplied, so the address bucket is what bounds a client
// rotating actor names. Must run after RequestContext. onReject may be nil.
func RateLimit(l Limiter, onReject func(), logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := clientAddr(r)
			actor := reqctx.Actor(r.Context())

			allowed := l.Allow("addr:" + addr)
			if allowed && actor != "" {
				allowed = l.Allow("actor:" + actor)
			}
			if !allowed {
				if onReject != nil {
					onReject()
				}
				logger.Warn("rate limit exceeded",
					append(reqctx.Fields(r.Context()),
						zap.String("remote_addr", addr),
						zap.String("actor", actor),
						zap.String("path", r.URL.Path),
					)...,
				)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
