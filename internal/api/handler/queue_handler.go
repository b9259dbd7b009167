package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ricirt/print-queue/internal/domain"
	"github.com/ricirt/print-queue/internal/reqctx"
	"github.com/ricirt/print-queue/internal/service"
)

// QueueHandler handles enqueue, listing and manual correction of the queue.
type QueueHandler struct {
	svc    *service.QueueService
	logger *zap.Logger
}

func NewQueueHandler(svc *service.QueueService, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{svc: svc, logger: logger}
}

type addRequest struct {
	Items []domain.EnqueueItem `json:"items"`
	Actor string               `json:"actor"`
}

type removeRequest struct {
	IDs []string `json:"ids"`
}

// Add handles POST /api/v1/queue
//
// Called by the order-approval flow. Subjects that already have an
// unclaimed entry are not queued twice; their existing entry is returned.
//
// @Summary  Enqueue label jobs
// @Tags     queue
// @Accept   json
// @Produce  json
// @Param    X-Actor-ID  header    string      false  "Approver, if not in the body"
// @Param    body        body      addRequest  true   "Subjects with their label snapshot"
// @Success  201         {object}  map[string]any
// @Failure  422         {object}  map[string]string
// @Failure  503         {object}  map[string]any
// @Router   /api/v1/queue [post]
func (h *QueueHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	entries, err := h.svc.AddToQueue(r.Context(), req.Items, actorFrom(r, req.Actor))
	if err != nil {
		h.logger.Warn("add to queue failed", append(reqctx.Fields(r.Context()), zap.Error(err))...)
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"entries": entries})
}

// List handles GET /api/v1/queue
//
// @Summary  List unclaimed entries, oldest first
// @Tags     queue
// @Produce  json
// @Param    limit   query     int  false  "Page size (default 20, max 100)"
// @Param    offset  query     int  false  "Entries to skip"
// @Success  200     {object}  domain.QueuePage
// @Failure  400     {object}  map[string]string
// @Router   /api/v1/queue [get]
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := intParam(w, r, "offset")
	if !ok {
		return
	}

	page, err := h.svc.GetQueue(r.Context(), limit, offset)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// Remove handles DELETE /api/v1/queue
//
// Manual correction: hard-deletes entries. Unknown ids are ignored.
//
// @Summary  Remove entries from the queue
// @Tags     queue
// @Accept   json
// @Produce  json
// @Param    body  body      removeRequest  true  "Entry ids"
// @Success  200   {object}  map[string]int
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/queue [delete]
func (h *QueueHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	removed, err := h.svc.RemoveFromQueue(r.Context(), req.IDs)
	if err != nil {
		h.logger.Warn("remove from queue failed", append(reqctx.Fields(r.Context()), zap.Error(err))...)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// Status handles GET /api/v1/queue/status
//
// @Summary  Queue counts for the printing screen header
// @Tags     queue
// @Produce  json
// @Success  200  {object}  domain.QueueStatus
// @Router   /api/v1/queue/status [get]
func (h *QueueHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetQueueStatus(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// intParam reads an optional integer query parameter. A missing parameter is
// 0; a malformed one is answered with 400 and ok=false.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, name+" must be an integer")
		return 0, false
	}
	return n, true
}
