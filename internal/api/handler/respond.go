package handler

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"

	apimw "github.com/ricirt/print-queue/internal/api/middleware"
	"github.com/ricirt/print-queue/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// mapError translates domain error classes to HTTP status codes.
// All mapping lives here so individual handlers stay concise.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		var nothing *domain.NothingClaimedError
		if errors.As(err, &nothing) {
			respondJSON(w, http.StatusNotFound, map[string]any{
				"error":           nothing.Error(),
				"already_claimed": nothing.AlreadyClaimed,
			})
			return
		}
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		respondError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrStorage):
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":     "queue storage is temporarily unavailable",
			"retryable": true,
		})
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// actorFrom prefers the actor named in the request body and falls back to the
// X-Actor-ID header.
func actorFrom(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get(apimw.ActorHeader)
}
