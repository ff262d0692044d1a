// Package audithttp exposes the audit read API.
package audithttp

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler serves audit listings.
type Handler struct {
	logger  *slog.Logger
	service *audit.Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *audit.Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/audit", h.Feed)
	r.Get("/audit/{entityType}/{entityID}", h.Timeline)
}

type listResponse struct {
	Records    []audit.Record `json:"records"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// Feed returns the tenant-wide stream.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingTenant)
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Cursor", err.Error())
		return
	}
	records, err := h.service.Feed(r.Context(), scope, page)
	if err != nil {
		h.logger.Error("audit feed failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toListResponse(records))
}

// Timeline returns one entity's records.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingTenant)
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Cursor", err.Error())
		return
	}
	entityType := chi.URLParam(r, "entityType")
	entityID := chi.URLParam(r, "entityID")
	records, err := h.service.Timeline(r.Context(), scope, entityType, entityID, page)
	if err != nil {
		h.logger.Error("audit timeline failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toListResponse(records))
}

func pageFromQuery(r *http.Request) (shared.Page, error) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return shared.DecodeCursor(r.URL.Query().Get("cursor"), limit)
}

func toListResponse(records []audit.Record) listResponse {
	resp := listResponse{Records: records}
	if len(records) > 0 {
		resp.NextCursor = shared.EncodeCursor(records[len(records)-1].Seq)
	}
	return resp
}
