package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	EnsureRecord(ctx context.Context, productID, warehouseID int64) error
	GetRecordForUpdate(ctx context.Context, productID, warehouseID int64) (Record, error)
	InsertMovement(ctx context.Context, movement StockMovement) (int64, error)
	UpdateRecord(ctx context.Context, record Record) (Record, error)
}

type txRepo struct {
	tx pgx.Tx
}

const recordColumns = `id, product_id, warehouse_id, quantity_on_hand, quantity_reserved, version, last_updated_at, created_at`

const movementColumns = `id, product_id, warehouse_id, movement_type, direction, quantity, reference_type, reference_id,
quantity_before, quantity_after, note, actor_id, occurred_at`

// WithTx executes the callback inside a repeatable-read transaction, joining
// one already carried by ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	return db.Translate(err)
}

// GetRecord loads the record for a pair.
func (r *Repository) GetRecord(ctx context.Context, productID, warehouseID int64) (Record, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_records
WHERE product_id=$1 AND warehouse_id=$2`, productID, warehouseID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	return rec, err
}

// ListRecords returns a page of records and the total count.
func (r *Repository) ListRecords(ctx context.Context, filter RecordFilter) ([]Record, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.ProductID > 0 {
		args = append(args, filter.ProductID)
		where = append(where, fmt.Sprintf("r.product_id = $%d", len(args)))
	}
	if filter.WarehouseID > 0 {
		args = append(args, filter.WarehouseID)
		where = append(where, fmt.Sprintf("r.warehouse_id = $%d", len(args)))
	}
	if filter.LowStockOnly {
		where = append(where, "r.quantity_available <= p.reorder_point")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	from := ` FROM inventory_records r JOIN products p ON p.id = r.product_id` + clause

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*)`+from, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.PerPage, shared.Offset(filter.Page, filter.PerPage))
	query := `SELECT r.id, r.product_id, r.warehouse_id, r.quantity_on_hand, r.quantity_reserved, r.version,
r.last_updated_at, r.created_at` + from + fmt.Sprintf(" ORDER BY r.product_id, r.warehouse_id LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// AllRecords returns every record ordered by pair.
func (r *Repository) AllRecords(ctx context.Context) ([]Record, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+recordColumns+` FROM inventory_records ORDER BY product_id, warehouse_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListMovements returns a page of movements matching filter, oldest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.ProductID > 0 {
		add("product_id = $%d", filter.ProductID)
	}
	if filter.WarehouseID > 0 {
		add("warehouse_id = $%d", filter.WarehouseID)
	}
	if filter.Type != "" {
		add("movement_type = $%d", string(filter.Type))
	}
	if !filter.From.IsZero() {
		add("occurred_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("occurred_at <= $%d", filter.To)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.PerPage, shared.Offset(filter.Page, filter.PerPage))
	query := `SELECT ` + movementColumns + ` FROM stock_movements` + clause +
		fmt.Sprintf(" ORDER BY occurred_at, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	movements, err := r.queryMovements(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

// MovementsForPair returns the full movement log of a pair in posting order.
func (r *Repository) MovementsForPair(ctx context.Context, productID, warehouseID int64) ([]StockMovement, error) {
	return r.queryMovements(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE product_id=$1 AND warehouse_id=$2 ORDER BY id`, productID, warehouseID)
}

// ListOutbound returns OUT movements since the given instant. A zero
// warehouseID matches every warehouse.
func (r *Repository) ListOutbound(ctx context.Context, productID, warehouseID int64, since time.Time) ([]StockMovement, error) {
	return r.queryMovements(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE product_id=$1 AND ($2 = 0 OR warehouse_id=$2) AND movement_type='OUT' AND occurred_at >= $3
ORDER BY occurred_at, id`, productID, warehouseID, since)
}

func (r *Repository) queryMovements(ctx context.Context, query string, args ...any) ([]StockMovement, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []StockMovement
	for rows.Next() {
		var m StockMovement
		var mvType, direction, refType string
		if err := rows.Scan(&m.ID, &m.ProductID, &m.WarehouseID, &mvType, &direction, &m.Quantity, &refType, &m.ReferenceID,
			&m.QuantityBefore, &m.QuantityAfter, &m.Note, &m.ActorID, &m.OccurredAt); err != nil {
			return nil, err
		}
		m.Type = MovementType(mvType)
		m.Direction = Direction(direction)
		m.ReferenceType = ReferenceType(refType)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *txRepo) EnsureRecord(ctx context.Context, productID, warehouseID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_records (product_id, warehouse_id)
VALUES ($1, $2) ON CONFLICT (product_id, warehouse_id) DO NOTHING`, productID, warehouseID)
	return err
}

func (r *txRepo) GetRecordForUpdate(ctx context.Context, productID, warehouseID int64) (Record, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_records
WHERE product_id=$1 AND warehouse_id=$2 FOR UPDATE`, productID, warehouseID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	return rec, err
}

func (r *txRepo) InsertMovement(ctx context.Context, m StockMovement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, warehouse_id, movement_type, direction, quantity,
reference_type, reference_id, quantity_before, quantity_after, note, actor_id, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		m.ProductID, m.WarehouseID, string(m.Type), string(m.Direction), m.Quantity,
		string(m.ReferenceType), m.ReferenceID, m.QuantityBefore, m.QuantityAfter, m.Note, m.ActorID, m.OccurredAt).Scan(&id)
	return id, err
}

// UpdateRecord writes on-hand and bumps the version. The version predicate
// guards against writers that skipped the row lock.
func (r *txRepo) UpdateRecord(ctx context.Context, rec Record) (Record, error) {
	row := r.tx.QueryRow(ctx, `UPDATE inventory_records
SET quantity_on_hand=$3, version=version+1, last_updated_at=$4
WHERE id=$1 AND version=$2
RETURNING `+recordColumns, rec.ID, rec.Version, rec.OnHand, rec.LastUpdatedAt)
	saved, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("inventory: record %d version %d: %w", rec.ID, rec.Version, shared.ErrConflict)
	}
	return saved, err
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.ProductID, &rec.WarehouseID, &rec.OnHand, &rec.Reserved, &rec.Version, &rec.LastUpdatedAt, &rec.CreatedAt)
	return rec, err
}
