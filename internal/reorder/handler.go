package reorder

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
)

// RunEnqueuer schedules a full reorder run in the background.
type RunEnqueuer interface {
	EnqueueReorderRun(ctx context.Context, actorID int64) (string, error)
}

// Handler exposes reorder endpoints.
type Handler struct {
	logger     *slog.Logger
	engine     *Engine
	forecaster *Forecaster
	enqueuer   RunEnqueuer
}

// NewHandler constructs the reorder handler. enqueuer may be nil when no
// worker queue is configured.
func NewHandler(logger *slog.Logger, engine *Engine, forecaster *Forecaster, enqueuer RunEnqueuer) *Handler {
	return &Handler{logger: logger, engine: engine, forecaster: forecaster, enqueuer: enqueuer}
}

// MountRoutes registers reorder routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/runs", h.enqueueRun)
	r.Post("/runs/{productID}/{warehouseID}", h.runFor)
	r.Get("/suggestions", h.suggestions)
	r.Get("/forecasts/{productID}", h.forecast)
}

func (h *Handler) enqueueRun(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if h.enqueuer == nil {
		httpx.RespondError(w, r, h.logger, errors.New("reorder: job queue not configured"))
		return
	}
	taskID, err := h.enqueuer.EnqueueReorderRun(r.Context(), actor)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (h *Handler) runFor(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	productID, err := httpx.PathInt64(r, "productID")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	warehouseID, err := httpx.PathInt64(r, "warehouseID")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	outcome, err := h.engine.RunFor(r.Context(), productID, warehouseID, actor)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	status := http.StatusOK
	if outcome.Order != nil {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, outcome)
}

func (h *Handler) suggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := h.engine.Suggest(r.Context())
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, suggestions)
}

func (h *Handler) forecast(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.PathInt64(r, "productID")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	forecast, err := h.forecaster.Get(r.Context(), productID)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, forecast)
}
