package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ricirt/print-queue/internal/reqctx"
)

const (
	CorrelationHeader = "X-Correlation-ID"
	// ActorHeader carries the acting terminal or approver when the request
	// body does not name one.
	ActorHeader = "X-Actor-ID"

	maxCorrelationIDLen = 128
)

// RequestContext stamps every request with a correlation id and the actor
// named in X-Actor-ID. A missing or oversized X-Correlation-ID is replaced by
// a fresh UUID. The id is echoed in the response so a terminal can quote it
// when a confirm goes wrong; both values reach service logs via reqctx.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" || len(id) > maxCorrelationIDLen {
			id = uuid.NewString()
		}
		ctx := reqctx.WithCorrelationID(r.Context(), id)
		if actor := r.Header.Get(ActorHeader); actor != "" {
			ctx = reqctx.WithActor(ctx, actor)
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
