package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ricirt/print-queue/internal/reqctx"
	"github.com/ricirt/print-queue/internal/service"
)

// BatchHandler serves the printing terminal: fetch the next batch, print it,
// then confirm it.
type BatchHandler struct {
	svc    *service.QueueService
	logger *zap.Logger
}

func NewBatchHandler(svc *service.QueueService, logger *zap.Logger) *BatchHandler {
	return &BatchHandler{svc: svc, logger: logger}
}

type confirmRequest struct {
	IDs   []string `json:"ids"`
	Actor string   `json:"actor"`
}

// Next handles GET /api/v1/queue/batch
//
// Read-only: calling it repeatedly returns the same batch until someone
// confirms or the queue changes.
//
// @Summary  Get the next batch to print
// @Tags     batch
// @Produce  json
// @Success  200  {object}  domain.PrintBatch
// @Failure  503  {object}  map[string]any
// @Router   /api/v1/queue/batch [get]
func (h *BatchHandler) Next(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetNextBatch(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

// Confirm handles POST /api/v1/queue/batch/confirm
//
// Sent only after the operator checked the physical labels. Entries another
// terminal claimed first are listed in already_claimed; the call still
// succeeds as long as at least one entry was claimed.
//
// @Summary  Confirm a batch as printed
// @Tags     batch
// @Accept   json
// @Produce  json
// @Param    X-Actor-ID  header    string          false  "Terminal, if not in the body"
// @Param    body        body      confirmRequest  true   "Printed entry ids"
// @Success  200         {object}  domain.ConfirmResult
// @Failure  404         {object}  map[string]string  "Nothing left to confirm"
// @Failure  422         {object}  map[string]string
// @Failure  503         {object}  map[string]any
// @Router   /api/v1/queue/batch/confirm [post]
func (h *BatchHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	actor := actorFrom(r, req.Actor)
	res, err := h.svc.ConfirmPrinted(r.Context(), req.IDs, actor)
	if err != nil {
		h.logger.Warn("confirm printed failed",
			append(reqctx.Fields(r.Context()), zap.String("actor", actor), zap.Error(err))...,
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
