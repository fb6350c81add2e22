package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/floorsync/internal/domain"
	"github.com/alanyoungcy/floorsync/internal/ingest"
	"github.com/alanyoungcy/floorsync/internal/reconcile"
)

// AdminHandler serves the operator endpoints.
type AdminHandler struct {
	ingest *ingest.Service
	queue  domain.TaskQueue
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(svc *ingest.Service, queue domain.TaskQueue, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		ingest: svc,
		queue:  queue,
		logger: logHandler(logger, "admin"),
	}
}

// revalidateReq selects what to revalidate. A token set id targets that set;
// a collection id or contract targets the contract-wide set. With no target,
// a recoverable-order revalidation pass runs inline.
type revalidateReq struct {
	TokenSetID   string `json:"token_set_id,omitempty"`
	CollectionID string `json:"collection_id,omitempty"`
	Contract     string `json:"contract,omitempty"`
}

// target resolves the token set to reconcile. Collections are keyed by
// contract, so both aliases map to the contract-wide set.
func (req revalidateReq) target() string {
	switch {
	case req.TokenSetID != "":
		return req.TokenSetID
	case req.CollectionID != "":
		return domain.ContractTokenSetID(req.CollectionID)
	case req.Contract != "":
		return domain.ContractTokenSetID(req.Contract)
	}
	return ""
}

// Revalidate triggers a revalidation, either targeted or batch.
// POST /api/admin/revalidate
func (h *AdminHandler) Revalidate(w http.ResponseWriter, r *http.Request) {
	var req revalidateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if target := req.target(); target != "" {
		job, err := reconcile.NewJob(target, domain.TriggerRevalidation, nil)
		if err != nil {
			h.logger.Error("build revalidation job failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to enqueue revalidation")
			return
		}
		if err := h.queue.Enqueue(r.Context(), job); err != nil {
			h.logger.Error("enqueue revalidation failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to enqueue revalidation")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":       "enqueued",
			"token_set_id": target,
		})
		return
	}

	n, err := h.ingest.RevalidateRecoverable(r.Context())
	if err != nil {
		h.logger.Error("revalidation pass failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "revalidation pass failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "done",
		"transitions": n,
	})
}
