package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const maxNumberAttempts = 5

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	GetOrderByNumber(ctx context.Context, number string) (PurchaseOrder, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error)
	ListOpenOrders(ctx context.Context) ([]PurchaseOrder, error)
	OpenCoverage(ctx context.Context, productID, warehouseID int64) (int64, error)
	CountByStatus(ctx context.Context) ([]StatusCount, error)
	DeliveryStats(ctx context.Context, since time.Time) ([]DeliveryStat, error)
}

// InventoryPort exposes the ledger entry point used by receipts.
type InventoryPort interface {
	ApplyMovement(ctx context.Context, input inventory.MovementInput) (inventory.Record, error)
}

// CatalogPort resolves master data referenced by orders.
type CatalogPort interface {
	GetProduct(ctx context.Context, id int64) (masterdata.Product, error)
	GetSupplier(ctx context.Context, id int64) (masterdata.Supplier, error)
	GetWarehouse(ctx context.Context, id int64) (masterdata.Warehouse, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the purchase order lifecycle.
type Service struct {
	repo      RepositoryPort
	inventory InventoryPort
	catalog   CatalogPort
	audit     AuditPort
	observer  OrderObserver
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, inventory InventoryPort, catalog CatalogPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		inventory: inventory,
		catalog:   catalog,
		audit:     audit,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetObserver registers the post-commit observer.
func (s *Service) SetObserver(observer OrderObserver) {
	s.observer = observer
}

// CreateOrder persists a new DRAFT order with a generated PO number.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (PurchaseOrder, error) {
	if err := shared.Validate(input); err != nil {
		return PurchaseOrder{}, err
	}
	now := s.now()
	orderDate := dateOf(input.OrderDate)
	if input.OrderDate.IsZero() {
		orderDate = dateOf(now)
	}
	expected := dateOf(input.ExpectedDeliveryDate)
	if !expected.IsZero() && expected.Before(orderDate) {
		return PurchaseOrder{}, fmt.Errorf("%w: expected delivery before order date", shared.ErrValidation)
	}
	items, err := s.buildItems(ctx, input.Lines)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if err := s.checkParties(ctx, input.SupplierID, input.WarehouseID); err != nil {
		return PurchaseOrder{}, err
	}
	items, total := lineTotals(items)
	draft := PurchaseOrder{
		SupplierID:           input.SupplierID,
		WarehouseID:          input.WarehouseID,
		OrderDate:            orderDate,
		ExpectedDeliveryDate: expected,
		Status:               POStatusDraft,
		TotalAmount:          total,
		Notes:                input.Notes,
		CreatedBy:            input.ActorID,
		UpdatedBy:            input.ActorID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	var order PurchaseOrder
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			seq, err := tx.NextSequence(ctx, orderDate)
			if err != nil {
				return err
			}
			order = draft
			order.Number = formatNumber(orderDate, seq)
			if order.ID, err = tx.InsertOrder(ctx, order); err != nil {
				return err
			}
			order.Items, err = tx.InsertItems(ctx, order.ID, items)
			return err
		})
		if !errors.Is(err, shared.ErrDuplicateReference) {
			break
		}
		s.logger.Warn("purchase order number collision, retrying", slog.String("number", order.Number), slog.Int("attempt", attempt+1))
	}
	if errors.Is(err, shared.ErrDuplicateReference) {
		return PurchaseOrder{}, ErrNumberExhausted
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.afterChange(ctx, shared.AuditOrderCreated, order, input.ActorID, map[string]any{"number": order.Number, "total": order.TotalAmount.String()})
	return order, nil
}

// UpdateOrder replaces supplier, warehouse, dates and lines of a DRAFT order.
func (s *Service) UpdateOrder(ctx context.Context, id int64, input UpdateOrderInput) (PurchaseOrder, error) {
	if err := shared.Validate(input); err != nil {
		return PurchaseOrder{}, err
	}
	items, err := s.buildItems(ctx, input.Lines)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if err := s.checkParties(ctx, input.SupplierID, input.WarehouseID); err != nil {
		return PurchaseOrder{}, err
	}
	var order PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != POStatusDraft {
			return fmt.Errorf("%w: order %s is %s", ErrOrderNotEditable, current.Number, current.Status)
		}
		expected := dateOf(input.ExpectedDeliveryDate)
		if !expected.IsZero() && expected.Before(current.OrderDate) {
			return fmt.Errorf("%w: expected delivery before order date", shared.ErrValidation)
		}
		lines, total := lineTotals(items)
		current.SupplierID = input.SupplierID
		current.WarehouseID = input.WarehouseID
		current.ExpectedDeliveryDate = expected
		current.Notes = input.Notes
		current.TotalAmount = total
		current.UpdatedBy = input.ActorID
		current.UpdatedAt = s.now()
		if current.Items, err = tx.ReplaceItems(ctx, id, lines); err != nil {
			return err
		}
		order, err = tx.SaveOrder(ctx, current)
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.afterChange(ctx, shared.AuditOrderUpdated, order, input.ActorID, map[string]any{"total": order.TotalAmount.String()})
	return order, nil
}

// Submit moves a DRAFT order to SUBMITTED.
func (s *Service) Submit(ctx context.Context, id, actorID int64) (PurchaseOrder, error) {
	return s.TransitionStatus(ctx, id, POStatusSubmitted, actorID)
}

// Approve moves a SUBMITTED order to APPROVED.
func (s *Service) Approve(ctx context.Context, id, actorID int64) (PurchaseOrder, error) {
	return s.TransitionStatus(ctx, id, POStatusApproved, actorID)
}

// MarkOrdered records that an APPROVED order was sent to the supplier.
func (s *Service) MarkOrdered(ctx context.Context, id, actorID int64) (PurchaseOrder, error) {
	return s.TransitionStatus(ctx, id, POStatusOrdered, actorID)
}

// Cancel cancels an order that has not been fully received.
func (s *Service) Cancel(ctx context.Context, id, actorID int64) (PurchaseOrder, error) {
	return s.TransitionStatus(ctx, id, POStatusCancelled, actorID)
}

// Close closes a FULLY_RECEIVED order.
func (s *Service) Close(ctx context.Context, id, actorID int64) (PurchaseOrder, error) {
	return s.TransitionStatus(ctx, id, POStatusClosed, actorID)
}

// TransitionStatus applies a lifecycle transition. Receipt statuses are only
// reachable through ReceiveItems.
func (s *Service) TransitionStatus(ctx context.Context, id int64, target POStatus, actorID int64) (PurchaseOrder, error) {
	if actorID <= 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: actor required", shared.ErrValidation)
	}
	if !target.Valid() {
		return PurchaseOrder{}, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, target)
	}
	if target == POStatusPartiallyReceived || target == POStatusFullyReceived {
		return PurchaseOrder{}, fmt.Errorf("%w: %s is set by receiving goods", ErrInvalidStatusTransition, target)
	}
	var (
		order PurchaseOrder
		from  POStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = current.Status
		if !CanTransition(current.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, current.Status, target)
		}
		now := s.now()
		current.Status = target
		current.UpdatedBy = actorID
		current.UpdatedAt = now
		if target == POStatusApproved {
			current.ApprovedBy = actorID
			current.ApprovedAt = &now
		}
		order, err = tx.SaveOrder(ctx, current)
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.afterChange(ctx, shared.AuditOrderStatus, order, actorID, map[string]any{"from": from, "to": target})
	return order, nil
}

// ReceiveItems records a goods receipt. Item updates, stock movements and the
// status change commit together or not at all.
func (s *Service) ReceiveItems(ctx context.Context, input ReceiveInput) (PurchaseOrder, error) {
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return PurchaseOrder{}, fmt.Errorf("%w: quantity must be positive for item %d", ErrInvalidLine, line.ItemID)
		}
	}
	if err := shared.Validate(input); err != nil {
		return PurchaseOrder{}, err
	}
	seen := make(map[int64]bool, len(input.Lines))
	for _, line := range input.Lines {
		if seen[line.ItemID] {
			return PurchaseOrder{}, fmt.Errorf("%w: item %d listed twice", ErrInvalidLine, line.ItemID)
		}
		seen[line.ItemID] = true
	}
	if s.inventory == nil {
		return PurchaseOrder{}, errors.New("procurement: inventory integration not configured")
	}

	var order PurchaseOrder
	err := db.RetryConflict(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return s.receive(ctx, tx, input, &order)
		})
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	received := make(map[string]int64, len(input.Lines))
	for _, line := range input.Lines {
		received[strconv.FormatInt(line.ItemID, 10)] = line.Quantity
	}
	s.afterChange(ctx, shared.AuditOrderReceived, order, input.ActorID, map[string]any{"lines": received, "status": order.Status})
	return order, nil
}

// receive applies one receipt inside tx and stores the updated order in out.
func (s *Service) receive(ctx context.Context, tx TxRepository, input ReceiveInput, out *PurchaseOrder) error {
	current, err := tx.GetOrderForUpdate(ctx, input.OrderID)
	if err != nil {
		return err
	}
	if !current.Status.Receivable() {
		return fmt.Errorf("%w: order %s is %s", ErrOrderNotReceivable, current.Number, current.Status)
	}
	for _, line := range input.Lines {
		idx, ok := current.item(line.ItemID)
		if !ok {
			return fmt.Errorf("%w: item %d on order %s", ErrItemNotFound, line.ItemID, current.Number)
		}
		item := current.Items[idx]
		if item.Remaining() == 0 {
			return fmt.Errorf("%w: item %d already fully received", ErrOverReceipt, item.ID)
		}
		if item.QuantityReceived+line.Quantity > item.QuantityOrdered {
			return fmt.Errorf("%w: item %d ordered %d, received %d, requested %d",
				ErrOverReceipt, item.ID, item.QuantityOrdered, item.QuantityReceived, line.Quantity)
		}
	}
	for _, line := range input.Lines {
		idx, _ := current.item(line.ItemID)
		item := &current.Items[idx]
		item.QuantityReceived += line.Quantity
		if err := tx.UpdateItemReceived(ctx, item.ID, item.QuantityReceived); err != nil {
			return err
		}
		_, err := s.inventory.ApplyMovement(ctx, inventory.MovementInput{
			ProductID:     item.ProductID,
			WarehouseID:   current.WarehouseID,
			Type:          inventory.MovementIn,
			Quantity:      line.Quantity,
			ReferenceType: inventory.ReferencePurchaseOrder,
			ReferenceID:   current.ID,
			Note:          receiptNote(current.Number, input.Notes),
			ActorID:       input.ActorID,
		})
		if err != nil {
			return err
		}
	}

	if current.Status == POStatusApproved {
		current.Status = POStatusOrdered
	}
	next := POStatusPartiallyReceived
	if current.FullyReceived() {
		next = POStatusFullyReceived
	}
	if next != current.Status {
		if !CanTransition(current.Status, next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, current.Status, next)
		}
		current.Status = next
	}
	now := s.now()
	if next == POStatusFullyReceived {
		current.ReceivedAt = &now
	}
	current.UpdatedBy = input.ActorID
	current.UpdatedAt = now
	saved, err := tx.SaveOrder(ctx, current)
	if err != nil {
		return err
	}
	*out = saved
	return nil
}

// GetOrder returns an order with its items.
func (s *Service) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetOrder(ctx, id)
}

// GetOrderByNumber returns an order by PO number.
func (s *Service) GetOrderByNumber(ctx context.Context, number string) (PurchaseOrder, error) {
	if number == "" {
		return PurchaseOrder{}, fmt.Errorf("%w: po number required", shared.ErrValidation)
	}
	return s.repo.GetOrderByNumber(ctx, number)
}

// ListOrders returns a page of order headers.
func (s *Service) ListOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, filter.Status)
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	return s.repo.ListOrders(ctx, filter)
}

// ListOpenOrders returns every order that is neither closed nor cancelled.
func (s *Service) ListOpenOrders(ctx context.Context) ([]PurchaseOrder, error) {
	return s.repo.ListOpenOrders(ctx)
}

// OpenCoverage is the quantity of productID still expected into warehouseID
// from open orders.
func (s *Service) OpenCoverage(ctx context.Context, productID, warehouseID int64) (int64, error) {
	return s.repo.OpenCoverage(ctx, productID, warehouseID)
}

// CountByStatus returns the number of orders per status.
func (s *Service) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	return s.repo.CountByStatus(ctx)
}

// DeliveryStats returns per-supplier on-time delivery counts since the given date.
func (s *Service) DeliveryStats(ctx context.Context, since time.Time) ([]DeliveryStat, error) {
	return s.repo.DeliveryStats(ctx, since)
}

func (s *Service) buildItems(ctx context.Context, lines []LineInput) ([]Item, error) {
	items := make([]Item, 0, len(lines))
	seen := make(map[int64]bool, len(lines))
	for _, line := range lines {
		if line.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: negative unit price for product %d", ErrInvalidLine, line.ProductID)
		}
		if seen[line.ProductID] {
			return nil, fmt.Errorf("%w: product %d listed twice", ErrInvalidLine, line.ProductID)
		}
		seen[line.ProductID] = true
		if s.catalog != nil {
			product, err := s.catalog.GetProduct(ctx, line.ProductID)
			if err != nil {
				return nil, err
			}
			if !product.IsActive {
				return nil, fmt.Errorf("%w: product %d", ErrInactiveMaster, line.ProductID)
			}
		}
		items = append(items, Item{
			ProductID:       line.ProductID,
			QuantityOrdered: line.Quantity,
			UnitPrice:       line.UnitPrice,
			Notes:           line.Notes,
		})
	}
	return items, nil
}

func (s *Service) checkParties(ctx context.Context, supplierID, warehouseID int64) error {
	if s.catalog == nil {
		return nil
	}
	supplier, err := s.catalog.GetSupplier(ctx, supplierID)
	if err != nil {
		return err
	}
	if !supplier.IsActive {
		return fmt.Errorf("%w: supplier %d", ErrInactiveMaster, supplierID)
	}
	warehouse, err := s.catalog.GetWarehouse(ctx, warehouseID)
	if err != nil {
		return err
	}
	if !warehouse.IsActive {
		return fmt.Errorf("%w: warehouse %d", ErrInactiveMaster, warehouseID)
	}
	return nil
}

func (s *Service) afterChange(ctx context.Context, action string, order PurchaseOrder, actorID int64, meta map[string]any) {
	db.AfterCommit(ctx, func(ctx context.Context) {
		if s.audit != nil {
			meta["status"] = order.Status
			err := s.audit.Record(ctx, shared.AuditLog{
				ActorID:  actorID,
				Action:   action,
				Entity:   "purchase_order",
				EntityID: strconv.FormatInt(order.ID, 10),
				Meta:     meta,
				At:       order.UpdatedAt,
			})
			if err != nil {
				s.logger.Warn("procurement audit", slog.Int64("order_id", order.ID), slog.Any("error", err))
			}
		}
		if s.observer != nil {
			if err := s.observer.OrderChanged(ctx, order, actorID); err != nil {
				s.logger.Warn("order observer", slog.Int64("order_id", order.ID), slog.Any("error", err))
			}
		}
	})
}

func formatNumber(day time.Time, seq int) string {
	return fmt.Sprintf("PO-%s-%03d", day.Format("20060102"), seq)
}

func receiptNote(number, notes string) string {
	if notes == "" {
		return "Receipt " + number
	}
	return "Receipt " + number + ": " + notes
}

func dateOf(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
