package alerts

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler exposes alert endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the alert handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers alert routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/counts", h.counts)
	r.Get("/{id}", h.get)
	r.Post("/{id}/acknowledge", h.change(h.service.Acknowledge))
	r.Post("/{id}/resolve", h.change(h.service.Resolve))
	r.Post("/{id}/dismiss", h.change(h.service.Dismiss))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		Status:   Status(q.Get("status")),
		Type:     Type(q.Get("type")),
		Severity: Severity(q.Get("severity")),
		Priority: Priority(q.Get("priority")),
	}
	filter.Page, filter.PerPage = httpx.QueryPage(r)
	alerts, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	httpx.JSON(w, http.StatusOK, httpx.Page[Alert]{Items: alerts, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)})
}

func (h *Handler) counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.Counts(r.Context())
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, counts)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	alert, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, alert)
}

type statusFunc func(ctx context.Context, id, actorID int64) (Alert, error)

func (h *Handler) change(fn statusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := httpx.Actor(r)
		if err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
		id, err := httpx.PathInt64(r, "id")
		if err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
		alert, err := fn(r.Context(), id, actor)
		if err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
		httpx.JSON(w, http.StatusOK, alert)
	}
}
