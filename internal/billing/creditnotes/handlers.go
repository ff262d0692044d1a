package creditnotes

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler serves the credit notes API.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers credit note routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/credit-notes", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Post("/from-invoice/{invoiceID}", h.CreateFromInvoice)
		r.Get("/{id}", h.Get)
		r.Put("/{id}/lines", h.UpsertLine)
		r.Delete("/{id}/lines/{lineNo}", h.RemoveLine)
		r.Post("/{id}/issue", h.Issue)
		r.Post("/{id}/cancel", h.Cancel)
	})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingTenant)
		return
	}
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	cn, err := h.service.Create(r.Context(), scope, in)
	if err != nil {
		h.logger.Error("credit note create failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cn)
}

func (h *Handler) CreateFromInvoice(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingTenant)
		return
	}
	invoiceID, err := pathID(r, "invoiceID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	cn, err := h.service.CreateFromInvoice(r.Context(), scope, invoiceID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cn)
}

func (h *Handler) UpsertLine(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingTenant)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var in LineInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	res, err := h.service.UpsertLine(r.Context(), scope, id, in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingTenant)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	lineNo, err := pathID(r, "lineNo")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Line Number", err.Error())
		return
	}
	res, err := h.service.RemoveLine(r.Context(), scope, id, lineNo)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, h.service.Issue)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, h.service.Cancel)
}

func (h *Handler) runAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, shared.Scope, int64) (*CreditNote, error)) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingTenant)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	cn, err := fn(r.Context(), scope, id)
	if err != nil {
		h.logger.Error("credit note action failed", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cn)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingTenant)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	cn, err := h.service.Get(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cn)
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
	filter := docflow.ListFilter{Search: r.URL.Query().Get("q")}
	if st := r.URL.Query().Get("status"); st != "" {
		status := docflow.Status(st)
		filter.Status = &status
	}
	headers, err := h.service.List(r.Context(), scope, filter, page)
	if err != nil {
		h.logger.Error("credit note list failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := struct {
		CreditNotes []docflow.Header `json:"credit_notes"`
		NextCursor  string           `json:"next_cursor,omitempty"`
	}{CreditNotes: headers}
	if len(headers) > 0 {
		resp.NextCursor = shared.EncodeCursor(headers[len(headers)-1].ID)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
