package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository persists alerts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const alertColumns = `id, alert_type, severity, priority, status, reference_type, reference_id, title, message, notes,
triggered_at, acknowledged_at, resolved_at, created_by, updated_by`

// FindActive returns the ACTIVE alert for key, if any.
func (r *Repository) FindActive(ctx context.Context, key Key) (Alert, bool, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts
WHERE alert_type=$1 AND reference_type=$2 AND reference_id=$3 AND status='ACTIVE'`,
		string(key.Type), string(key.ReferenceType), key.ReferenceID)
	alert, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Alert{}, false, nil
	}
	if err != nil {
		return Alert{}, false, err
	}
	return alert, true, nil
}

// ListUnresolved returns ACTIVE and ACKNOWLEDGED alerts for key.
func (r *Repository) ListUnresolved(ctx context.Context, key Key) ([]Alert, error) {
	return r.query(ctx, `SELECT `+alertColumns+` FROM alerts
WHERE alert_type=$1 AND reference_type=$2 AND reference_id=$3 AND status IN ('ACTIVE', 'ACKNOWLEDGED')
ORDER BY id`, string(key.Type), string(key.ReferenceType), key.ReferenceID)
}

// Insert stores a new alert. A concurrent ACTIVE alert for the same key
// surfaces as shared.ErrDuplicateReference.
func (r *Repository) Insert(ctx context.Context, a Alert) (Alert, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO alerts (alert_type, severity, priority, status, reference_type,
reference_id, title, message, notes, triggered_at, created_by, updated_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING `+alertColumns,
		string(a.Type), string(a.Severity), string(a.Priority), string(a.Status), string(a.ReferenceType),
		a.ReferenceID, a.Title, a.Message, a.Notes, a.TriggeredAt, a.CreatedBy, a.UpdatedBy)
	saved, err := scanAlert(row)
	return saved, db.Translate(err)
}

// Get loads one alert.
func (r *Repository) Get(ctx context.Context, id int64) (Alert, error) {
	alert, err := scanAlert(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Alert{}, ErrAlertNotFound
	}
	return alert, err
}

// Save writes a status change. The row is only updated while its stored
// status is still from; otherwise Save returns ErrStaleAlert.
func (r *Repository) Save(ctx context.Context, a Alert, from Status) (Alert, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `UPDATE alerts
SET status=$2, notes=$3, acknowledged_at=$4, resolved_at=$5, updated_by=$6
WHERE id=$1 AND status=$7
RETURNING `+alertColumns, a.ID, string(a.Status), a.Notes, a.AcknowledgedAt, a.ResolvedAt, a.UpdatedBy, string(from))
	saved, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := r.Get(ctx, a.ID); err != nil {
			return Alert{}, err
		}
		return Alert{}, ErrStaleAlert
	}
	return saved, db.Translate(err)
}

// List returns a page of alerts matching filter, newest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Alert, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(column, v string) {
		if v == "" {
			return
		}
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("status", string(filter.Status))
	add("alert_type", string(filter.Type))
	add("severity", string(filter.Severity))
	add("priority", string(filter.Priority))
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM alerts`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.PerPage, shared.Offset(filter.Page, filter.PerPage))
	alerts, err := r.query(ctx, `SELECT `+alertColumns+` FROM alerts`+clause+
		fmt.Sprintf(" ORDER BY triggered_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

// Counts aggregates alerts along each dimension in one pass.
func (r *Repository) Counts(ctx context.Context) (Counts, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT status, alert_type, severity, priority, COUNT(*)
FROM alerts
GROUP BY GROUPING SETS ((status), (alert_type), (severity), (priority))`)
	if err != nil {
		return Counts{}, err
	}
	defer rows.Close()
	counts := emptyCounts()
	for rows.Next() {
		var (
			status, alertType, severity, priority *string
			n                                     int
		)
		if err := rows.Scan(&status, &alertType, &severity, &priority, &n); err != nil {
			return Counts{}, err
		}
		switch {
		case status != nil:
			counts.ByStatus[Status(*status)] = n
		case alertType != nil:
			counts.ByType[Type(*alertType)] = n
		case severity != nil:
			counts.BySeverity[Severity(*severity)] = n
		case priority != nil:
			counts.ByPriority[Priority(*priority)] = n
		}
	}
	return counts, rows.Err()
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]Alert, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var alerts []Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func emptyCounts() Counts {
	return Counts{
		ByStatus:   map[Status]int{},
		ByType:     map[Type]int{},
		BySeverity: map[Severity]int{},
		ByPriority: map[Priority]int{},
	}
}

func scanAlert(row pgx.Row) (Alert, error) {
	var (
		a                                           Alert
		alertType, severity, priority, status, refT string
	)
	err := row.Scan(&a.ID, &alertType, &severity, &priority, &status, &refT, &a.ReferenceID, &a.Title, &a.Message,
		&a.Notes, &a.TriggeredAt, &a.AcknowledgedAt, &a.ResolvedAt, &a.CreatedBy, &a.UpdatedBy)
	if err != nil {
		return Alert{}, err
	}
	a.Type = Type(alertType)
	a.Severity = Severity(severity)
	a.Priority = Priority(priority)
	a.Status = Status(status)
	a.ReferenceType = ReferenceType(refT)
	return a, nil
}
