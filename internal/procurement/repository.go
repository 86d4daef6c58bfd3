package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	NextSequence(ctx context.Context, day time.Time) (int, error)
	InsertOrder(ctx context.Context, order PurchaseOrder) (int64, error)
	InsertItems(ctx context.Context, orderID int64, items []Item) ([]Item, error)
	ReplaceItems(ctx context.Context, orderID int64, items []Item) ([]Item, error)
	GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	SaveOrder(ctx context.Context, order PurchaseOrder) (PurchaseOrder, error)
	UpdateItemReceived(ctx context.Context, itemID, received int64) error
}

type txRepo struct {
	tx pgx.Tx
}

const orderColumns = `id, po_number, supplier_id, warehouse_id, order_date, expected_delivery_date, status,
total_amount::text, notes, version, created_by, updated_by, approved_by, approved_at, received_at, created_at, updated_at`

const itemColumns = `id, purchase_order_id, product_id, quantity_ordered, quantity_received, unit_price::text, total_price::text, notes`

// WithTx wraps callback in repeatable-read transaction, joining one carried by ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	return db.Translate(err)
}

// GetOrder loads an order and its items.
func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return r.loadOrder(ctx, db.Conn(ctx, r.pool), `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1`, id)
}

// GetOrderByNumber loads an order by its PO number.
func (r *Repository) GetOrderByNumber(ctx context.Context, number string) (PurchaseOrder, error) {
	return r.loadOrder(ctx, db.Conn(ctx, r.pool), `SELECT `+orderColumns+` FROM purchase_orders WHERE po_number=$1`, number)
}

func (r *Repository) loadOrder(ctx context.Context, q db.Querier, query string, arg any) (PurchaseOrder, error) {
	order, err := scanOrder(q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrOrderNotFound
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	order.Items, err = queryItems(ctx, q, order.ID)
	return order, err
}

// ListOrders returns a page of order headers and the total count.
func (r *Repository) ListOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.SupplierID > 0 {
		add("supplier_id = $%d", filter.SupplierID)
	}
	if filter.WarehouseID > 0 {
		add("warehouse_id = $%d", filter.WarehouseID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.PerPage, shared.Offset(filter.Page, filter.PerPage))
	query := `SELECT ` + orderColumns + ` FROM purchase_orders` + clause +
		fmt.Sprintf(" ORDER BY order_date DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	orders, err := queryOrders(ctx, conn, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListOpenOrders returns headers of orders that are neither closed nor cancelled.
func (r *Repository) ListOpenOrders(ctx context.Context) ([]PurchaseOrder, error) {
	return queryOrders(ctx, db.Conn(ctx, r.pool), `SELECT `+orderColumns+` FROM purchase_orders
WHERE status NOT IN ('CLOSED', 'CANCELLED') ORDER BY expected_delivery_date NULLS LAST, id`)
}

// OpenCoverage sums the unreceived quantity on open orders for a pair.
func (r *Repository) OpenCoverage(ctx context.Context, productID, warehouseID int64) (int64, error) {
	var qty int64
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COALESCE(SUM(i.quantity_ordered - i.quantity_received), 0)
FROM purchase_order_items i
JOIN purchase_orders o ON o.id = i.purchase_order_id
WHERE i.product_id=$1 AND o.warehouse_id=$2
  AND o.status IN ('DRAFT', 'SUBMITTED', 'APPROVED', 'ORDERED', 'PARTIALLY_RECEIVED')`, productID, warehouseID).Scan(&qty)
	return qty, err
}

// CountByStatus groups orders by status.
func (r *Repository) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT status, COUNT(*) FROM purchase_orders GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var counts []StatusCount
	for rows.Next() {
		var (
			status string
			c      StatusCount
		)
		if err := rows.Scan(&status, &c.Count); err != nil {
			return nil, err
		}
		c.Status = POStatus(status)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// DeliveryStats counts received orders per supplier and how many arrived by
// their expected date.
func (r *Repository) DeliveryStats(ctx context.Context, since time.Time) ([]DeliveryStat, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT supplier_id,
       COUNT(*),
       COUNT(*) FILTER (WHERE expected_delivery_date IS NULL OR received_at::date <= expected_delivery_date)
FROM purchase_orders
WHERE received_at IS NOT NULL AND received_at >= $1
GROUP BY supplier_id
ORDER BY supplier_id`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var stats []DeliveryStat
	for rows.Next() {
		var s DeliveryStat
		if err := rows.Scan(&s.SupplierID, &s.Delivered, &s.OnTime); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// NextSequence returns the next free daily suffix for PO numbers.
func (r *txRepo) NextSequence(ctx context.Context, day time.Time) (int, error) {
	var seq int
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(split_part(po_number, '-', 3)::int), 0) + 1
FROM purchase_orders WHERE po_number LIKE $1`, "PO-"+day.Format("20060102")+"-%").Scan(&seq)
	return seq, err
}

func (r *txRepo) InsertOrder(ctx context.Context, o PurchaseOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (po_number, supplier_id, warehouse_id, order_date,
expected_delivery_date, status, total_amount, notes, created_by, updated_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12) RETURNING id`,
		o.Number, o.SupplierID, o.WarehouseID, o.OrderDate, nullableDate(o.ExpectedDeliveryDate), string(o.Status),
		o.TotalAmount.String(), o.Notes, o.CreatedBy, o.UpdatedBy, o.CreatedAt, o.UpdatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) InsertItems(ctx context.Context, orderID int64, items []Item) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		item.OrderID = orderID
		err := r.tx.QueryRow(ctx, `INSERT INTO purchase_order_items (purchase_order_id, product_id, quantity_ordered,
quantity_received, unit_price, total_price, notes)
VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7) RETURNING id`,
			orderID, item.ProductID, item.QuantityOrdered, item.QuantityReceived,
			item.UnitPrice.String(), item.TotalPrice.String(), item.Notes).Scan(&item.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *txRepo) ReplaceItems(ctx context.Context, orderID int64, items []Item) ([]Item, error) {
	if _, err := r.tx.Exec(ctx, `DELETE FROM purchase_order_items WHERE purchase_order_id=$1`, orderID); err != nil {
		return nil, err
	}
	return r.InsertItems(ctx, orderID, items)
}

func (r *txRepo) GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	order, err := scanOrder(r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrOrderNotFound
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	order.Items, err = queryItems(ctx, r.tx, id)
	return order, err
}

// SaveOrder writes the header and bumps the version. A stale version means
// another writer got there first.
func (r *txRepo) SaveOrder(ctx context.Context, o PurchaseOrder) (PurchaseOrder, error) {
	var approvedBy *int64
	if o.ApprovedBy > 0 {
		approvedBy = &o.ApprovedBy
	}
	row := r.tx.QueryRow(ctx, `UPDATE purchase_orders
SET supplier_id=$3, warehouse_id=$4, expected_delivery_date=$5, status=$6, total_amount=$7::numeric, notes=$8,
    updated_by=$9, approved_by=$10, approved_at=$11, received_at=$12, updated_at=$13, version=version+1
WHERE id=$1 AND version=$2
RETURNING `+orderColumns,
		o.ID, o.Version, o.SupplierID, o.WarehouseID, nullableDate(o.ExpectedDeliveryDate), string(o.Status),
		o.TotalAmount.String(), o.Notes, o.UpdatedBy, approvedBy, o.ApprovedAt, o.ReceivedAt, o.UpdatedAt)
	saved, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, fmt.Errorf("procurement: order %d version %d: %w", o.ID, o.Version, shared.ErrConflict)
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	saved.Items = o.Items
	return saved, nil
}

func (r *txRepo) UpdateItemReceived(ctx context.Context, itemID, received int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_order_items SET quantity_received=$2 WHERE id=$1`, itemID, received)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func queryOrders(ctx context.Context, q db.Querier, query string, args ...any) ([]PurchaseOrder, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []PurchaseOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func queryItems(ctx context.Context, q db.Querier, orderID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM purchase_order_items WHERE purchase_order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var (
			item              Item
			unitPrice, amount string
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.QuantityOrdered, &item.QuantityReceived,
			&unitPrice, &amount, &item.Notes); err != nil {
			return nil, err
		}
		if item.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, err
		}
		if item.TotalPrice, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var (
		o          PurchaseOrder
		status     string
		total      string
		expected   *time.Time
		approvedBy *int64
	)
	err := row.Scan(&o.ID, &o.Number, &o.SupplierID, &o.WarehouseID, &o.OrderDate, &expected, &status,
		&total, &o.Notes, &o.Version, &o.CreatedBy, &o.UpdatedBy, &approvedBy, &o.ApprovedAt, &o.ReceivedAt,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return PurchaseOrder{}, err
	}
	o.Status = POStatus(status)
	if expected != nil {
		o.ExpectedDeliveryDate = *expected
	}
	if approvedBy != nil {
		o.ApprovedBy = *approvedBy
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return PurchaseOrder{}, err
	}
	return o, nil
}

func nullableDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
