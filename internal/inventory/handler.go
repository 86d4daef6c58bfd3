package inventory

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler wires HTTP endpoints for the inventory ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/records", h.listRecords)
	r.Post("/records", h.provisionRecord)
	r.Get("/records/{productID}/{warehouseID}", h.getRecord)
	r.Get("/records/{productID}/{warehouseID}/reconcile", h.reconcile)
	r.Get("/movements", h.listMovements)
	r.Post("/movements", h.applyMovement)
	r.Post("/adjustments", h.postAdjustment)
	r.Post("/transfers", h.postTransfer)
}

type recordView struct {
	Record
	Available int64 `json:"quantity_available"`
}

func viewOf(rec Record) recordView {
	return recordView{Record: rec, Available: rec.Available()}
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.QueryInt64(r, "product_id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	warehouseID, err := httpx.QueryInt64(r, "warehouse_id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	page, perPage := httpx.QueryPage(r)
	records, total, err := h.service.ListRecords(r.Context(), RecordFilter{
		ProductID:    productID,
		WarehouseID:  warehouseID,
		LowStockOnly: r.URL.Query().Get("low_stock") == "true",
		Page:         page,
		PerPage:      perPage,
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	items := make([]recordView, 0, len(records))
	for _, rec := range records {
		items = append(items, viewOf(rec))
	}
	httpx.JSON(w, http.StatusOK, httpx.Page[recordView]{Items: items, Pagination: shared.NewPagination(page, perPage, total)})
}

type provisionRequest struct {
	ProductID   int64 `json:"product_id"`
	WarehouseID int64 `json:"warehouse_id"`
}

func (h *Handler) provisionRecord(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req provisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	rec, err := h.service.ProvisionRecord(r.Context(), req.ProductID, req.WarehouseID, actor)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, viewOf(rec))
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, err := pairParams(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	rec, err := h.service.GetRecord(r.Context(), productID, warehouseID)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(rec))
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, err := pairParams(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	report, err := h.service.Reconcile(r.Context(), productID, warehouseID)
	if err != nil && !errors.Is(err, ErrLedgerCorrupted) {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	var filter MovementFilter
	var err error
	if filter.ProductID, err = httpx.QueryInt64(r, "product_id"); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if filter.WarehouseID, err = httpx.QueryInt64(r, "warehouse_id"); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	filter.Type = MovementType(r.URL.Query().Get("type"))
	if filter.From, err = parseDate(r.URL.Query().Get("from")); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if filter.To, err = parseDate(r.URL.Query().Get("to")); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if !filter.To.IsZero() {
		filter.To = filter.To.Add(24*time.Hour - time.Nanosecond)
	}
	filter.Page, filter.PerPage = httpx.QueryPage(r)
	movements, total, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if movements == nil {
		movements = []StockMovement{}
	}
	httpx.JSON(w, http.StatusOK, httpx.Page[StockMovement]{Items: movements, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)})
}

func (h *Handler) applyMovement(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var input MovementInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	input.ActorID = actor
	rec, err := h.service.ApplyMovement(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, viewOf(rec))
}

func (h *Handler) postAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var input AdjustmentInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	input.ActorID = actor
	input.IdempotencyKey = r.Header.Get("Idempotency-Key")
	rec, err := h.service.PostAdjustment(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, viewOf(rec))
}

func (h *Handler) postTransfer(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var input TransferInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	input.ActorID = actor
	result, err := h.service.PostTransfer(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]recordView{
		"source":      viewOf(result.Source),
		"destination": viewOf(result.Destination),
	})
}

func pairParams(r *http.Request) (int64, int64, error) {
	productID, err := httpx.PathInt64(r, "productID")
	if err != nil {
		return 0, 0, err
	}
	warehouseID, err := httpx.PathInt64(r, "warehouseID")
	if err != nil {
		return 0, 0, err
	}
	return productID, warehouseID, nil
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", shared.ErrValidation, raw)
	}
	return t, nil
}
