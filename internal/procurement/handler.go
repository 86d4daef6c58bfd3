package procurement

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler exposes purchase order endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listOrders)
	r.Post("/", h.createOrder)
	r.Get("/counts", h.countByStatus)
	r.Get("/number/{number}", h.getByNumber)
	r.Get("/{id}", h.getOrder)
	r.Put("/{id}", h.updateOrder)
	r.Post("/{id}/submit", h.transition(POStatusSubmitted))
	r.Post("/{id}/approve", h.transition(POStatusApproved))
	r.Post("/{id}/order", h.transition(POStatusOrdered))
	r.Post("/{id}/cancel", h.transition(POStatusCancelled))
	r.Post("/{id}/close", h.transition(POStatusClosed))
	r.Post("/{id}/receipts", h.receive)
}

type orderRequest struct {
	SupplierID           int64       `json:"supplier_id"`
	WarehouseID          int64       `json:"warehouse_id"`
	OrderDate            string      `json:"order_date"`
	ExpectedDeliveryDate string      `json:"expected_delivery_date"`
	Notes                string      `json:"notes"`
	Lines                []LineInput `json:"lines"`
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	var (
		filter ListFilter
		err    error
	)
	if filter.SupplierID, err = httpx.QueryInt64(r, "supplier_id"); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if filter.WarehouseID, err = httpx.QueryInt64(r, "warehouse_id"); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	filter.Status = POStatus(r.URL.Query().Get("status"))
	filter.Page, filter.PerPage = httpx.QueryPage(r)
	orders, total, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if orders == nil {
		orders = []PurchaseOrder{}
	}
	httpx.JSON(w, http.StatusOK, httpx.Page[PurchaseOrder]{Items: orders, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req orderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	orderDate, err := parseDate(req.OrderDate)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	expected, err := parseDate(req.ExpectedDeliveryDate)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	order, err := h.service.CreateOrder(r.Context(), CreateOrderInput{
		SupplierID:           req.SupplierID,
		WarehouseID:          req.WarehouseID,
		OrderDate:            orderDate,
		ExpectedDeliveryDate: expected,
		Notes:                req.Notes,
		Lines:                req.Lines,
		ActorID:              actor,
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
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
	var req orderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	expected, err := parseDate(req.ExpectedDeliveryDate)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	order, err := h.service.UpdateOrder(r.Context(), id, UpdateOrderInput{
		SupplierID:           req.SupplierID,
		WarehouseID:          req.WarehouseID,
		ExpectedDeliveryDate: expected,
		Notes:                req.Notes,
		Lines:                req.Lines,
		ActorID:              actor,
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) getByNumber(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrderByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) countByStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.CountByStatus(r.Context())
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if counts == nil {
		counts = []StatusCount{}
	}
	httpx.JSON(w, http.StatusOK, counts)
}

func (h *Handler) transition(target POStatus) http.HandlerFunc {
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
		order, err := h.service.TransitionStatus(r.Context(), id, target, actor)
		if err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
		httpx.JSON(w, http.StatusOK, order)
	}
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
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
	var input ReceiveInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	input.OrderID = id
	input.ActorID = actor
	order, err := h.service.ReceiveItems(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
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
