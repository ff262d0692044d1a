package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler serves the ledger API. Entries are read-mostly over HTTP; the
// billing services post through the Go API, and the manual post endpoint
// exists for adjustments.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/ledger/entries", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Post)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/reverse", h.Reverse)
	})
	r.Get("/ledger/by-source/{sourceType}/{sourceID}", h.ForSource)
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingTenant)
		return
	}
	var in PostInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	entry, err := h.service.Post(r.Context(), scope, in)
	if err != nil {
		h.logger.Error("ledger post failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

type reverseRequest struct {
	EventType string `json:"event_type"`
	Memo      string `json:"memo"`
}

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingTenant)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var in reverseRequest
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if in.EventType == "" {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "event_type is required")
		return
	}
	entry, err := h.service.Reverse(r.Context(), scope, id, in.EventType, in.Memo)
	if err != nil {
		h.logger.Error("ledger reverse failed", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingTenant)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	entry, err := h.service.Get(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) ForSource(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingTenant)
		return
	}
	sourceID, err := strconv.ParseInt(chi.URLParam(r, "sourceID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	entries, err := h.service.ForSource(r.Context(), scope, chi.URLParam(r, "sourceType"), sourceID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingTenant)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	page, err := shared.DecodeCursor(r.URL.Query().Get("cursor"), limit)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Cursor", err.Error())
		return
	}
	entries, err := h.service.List(r.Context(), scope, page)
	if err != nil {
		h.logger.Error("ledger list failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := struct {
		Entries    []Entry `json:"entries"`
		NextCursor string  `json:"next_cursor,omitempty"`
	}{Entries: entries}
	if len(entries) > 0 {
		resp.NextCursor = shared.EncodeCursor(entries[len(entries)-1].ID)
	}
	httpx.JSON(w, http.StatusOK, resp)
}
