// Package alerts raises, deduplicates and auto-resolves operational alerts
// for stock levels and purchase order deliveries.
package alerts

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Type classifies an alert.
type Type string

const (
	TypeLowStock            Type = "LOW_STOCK"
	TypeOutOfStock          Type = "OUT_OF_STOCK"
	TypeOrderDue            Type = "PURCHASE_ORDER_DUE"
	TypeOrderOverdue        Type = "PURCHASE_ORDER_OVERDUE"
	TypeInventoryAdjustment Type = "INVENTORY_ADJUSTMENT"
)

// Severity ranks impact.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Priority ranks urgency.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Status is the alert lifecycle status.
type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusResolved     Status = "RESOLVED"
	StatusDismissed    Status = "DISMISSED"
)

// ReferenceType names the entity an alert is about.
type ReferenceType string

const (
	ReferenceInventory     ReferenceType = "INVENTORY"
	ReferencePurchaseOrder ReferenceType = "PURCHASE_ORDER"
	ReferenceMovement      ReferenceType = "STOCK_MOVEMENT"
)

var transitions = map[Status][]Status{
	StatusActive:       {StatusAcknowledged, StatusResolved, StatusDismissed},
	StatusAcknowledged: {StatusResolved, StatusDismissed},
}

// CanTransition reports whether an alert may move from -> to.
func CanTransition(from, to Status) bool {
	for _, target := range transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Unresolved reports whether the alert still needs attention.
func (s Status) Unresolved() bool {
	return s == StatusActive || s == StatusAcknowledged
}

var (
	// ErrAlertNotFound indicates an unknown alert id.
	ErrAlertNotFound = fmt.Errorf("alerts: alert %w", shared.ErrNotFound)
	// ErrInvalidAlertTransition indicates a status change outside the lifecycle.
	ErrInvalidAlertTransition = fmt.Errorf("alerts: %w", shared.ErrInvalidTransition)
	// ErrStaleAlert indicates the stored status changed since the alert was read.
	ErrStaleAlert = fmt.Errorf("alerts: alert %w", shared.ErrConflict)
)

// Key identifies the condition an alert reports on. At most one ACTIVE alert
// exists per key.
type Key struct {
	Type          Type
	ReferenceType ReferenceType
	ReferenceID   int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%d", k.Type, k.ReferenceType, k.ReferenceID)
}

// Alert is a persisted alert.
type Alert struct {
	ID             int64         `json:"id"`
	Type           Type          `json:"alert_type"`
	Severity       Severity      `json:"severity"`
	Priority       Priority      `json:"priority"`
	Status         Status        `json:"status"`
	ReferenceType  ReferenceType `json:"reference_type"`
	ReferenceID    int64         `json:"reference_id"`
	Title          string        `json:"title"`
	Message        string        `json:"message"`
	Notes          string        `json:"notes,omitempty"`
	TriggeredAt    time.Time     `json:"triggered_at"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
	CreatedBy      int64         `json:"created_by"`
	UpdatedBy      int64         `json:"updated_by"`
}

// Key returns the dedup key of the alert.
func (a Alert) Key() Key {
	return Key{Type: a.Type, ReferenceType: a.ReferenceType, ReferenceID: a.ReferenceID}
}

// Condition is the outcome of evaluating one rule against current state.
type Condition struct {
	Key      Key
	Holds    bool
	Severity Severity
	Priority Priority
	Title    string
	Message  string
}

// Filter narrows alert listings.
type Filter struct {
	Status   Status
	Type     Type
	Severity Severity
	Priority Priority
	Page     int
	PerPage  int
}

// Counts summarises alerts along each dimension.
type Counts struct {
	ByStatus   map[Status]int   `json:"by_status"`
	ByType     map[Type]int     `json:"by_type"`
	BySeverity map[Severity]int `json:"by_severity"`
	ByPriority map[Priority]int `json:"by_priority"`
}

// SweepResult reports a full evaluation pass.
type SweepResult struct {
	Evaluated int `json:"evaluated"`
	Raised    int `json:"raised"`
	Resolved  int `json:"resolved"`
	Failed    int `json:"failed"`
}
