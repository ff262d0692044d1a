package jobs

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler exposes job controls over HTTP.
type Handler struct {
	logger *slog.Logger
	client *Client
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, client *Client) *Handler {
	return &Handler{logger: logger, client: client}
}

// MountRoutes registers job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/jobs/recon-scan", h.EnqueueReconScan)
}

type reconScanRequest struct {
	GraceMinutes int `json:"grace_minutes"`
}

// EnqueueReconScan queues an ad-hoc reconciliation run.
func (h *Handler) EnqueueReconScan(w http.ResponseWriter, r *http.Request) {
	var req reconScanRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
			return
		}
	}
	payload := ReconScanPayload{}
	if req.GraceMinutes > 0 {
		payload.Grace = time.Duration(req.GraceMinutes) * time.Minute
	}
	info, err := h.client.EnqueueReconScan(r.Context(), payload)
	if err != nil {
		h.logger.Error("enqueue recon scan failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Enqueue Failed", "")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"task_id": info.ID, "queue": info.Queue})
}
