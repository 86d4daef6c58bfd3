package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type stubReconciler struct {
	records []inventory.Record
	reports map[[2]int64]inventory.ReconcileReport
}

func (s stubReconciler) AllRecords(ctx context.Context) ([]inventory.Record, error) {
	return s.records, nil
}

func (s stubReconciler) Reconcile(ctx context.Context, productID, warehouseID int64) (inventory.ReconcileReport, error) {
	report, ok := s.reports[[2]int64{productID, warehouseID}]
	if !ok {
		return inventory.ReconcileReport{}, shared.ErrNotFound
	}
	return report, nil
}

func newStubReconciler() stubReconciler {
	return stubReconciler{
		records: []inventory.Record{{ProductID: 1, WarehouseID: 1}, {ProductID: 2, WarehouseID: 1}},
		reports: map[[2]int64]inventory.ReconcileReport{
			{1, 1}: {ProductID: 1, WarehouseID: 1, StoredOnHand: 40, ReplayedOnHand: 40, Movements: 3, Consistent: true},
			{2, 1}: {ProductID: 2, WarehouseID: 1, StoredOnHand: 12, ReplayedOnHand: 9, Movements: 2, Consistent: false},
		},
	}
}

func TestReconcileAllReportsDrift(t *testing.T) {
	stdout := new(bytes.Buffer)
	code := ReconcileCommand(context.Background(), newStubReconciler(), ReconcileOptions{JSONOutput: true, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, ExitDrift, code)

	var summary ReconcileSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.False(t, summary.OK)
	require.Equal(t, 2, summary.Checked)
	require.Len(t, summary.Drift, 1)
	require.Equal(t, int64(9), summary.Drift[0].ReplayedOnHand)
}

func TestReconcileSinglePairConsistent(t *testing.T) {
	stdout := new(bytes.Buffer)
	code := ReconcileCommand(context.Background(), newStubReconciler(), ReconcileOptions{ProductID: 1, WarehouseID: 1, Stdout: stdout})
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "ledger consistent")
}

func TestReconcileRejectsHalfPair(t *testing.T) {
	stderr := new(bytes.Buffer)
	code := ReconcileCommand(context.Background(), newStubReconciler(), ReconcileOptions{ProductID: 1, Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "--warehouse")
}

func TestReconcileUnknownPairFails(t *testing.T) {
	stderr := new(bytes.Buffer)
	code := ReconcileCommand(context.Background(), newStubReconciler(), ReconcileOptions{ProductID: 5, WarehouseID: 5, Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "product 5 warehouse 5")
}

type stubQueue struct {
	triggered []string
	actor     int64
	err       error
}

func (s *stubQueue) Trigger(ctx context.Context, name string, actorID int64) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.triggered = append(s.triggered, name)
	s.actor = actorID
	return "task-1", nil
}

func (s *stubQueue) InspectQueue(ctx context.Context) (QueueStats, error) {
	return QueueStats{Queue: "default", Pending: 2, Retry: 1}, nil
}

func TestTriggerCommand(t *testing.T) {
	queue := &stubQueue{}
	stdout := new(bytes.Buffer)
	code := TriggerCommand(context.Background(), queue, TriggerOptions{Task: "reorder:run", ActorID: 3, Stdout: stdout})
	require.Equal(t, 0, code)
	require.Equal(t, []string{"reorder:run"}, queue.triggered)
	require.Equal(t, int64(3), queue.actor)
	require.Contains(t, stdout.String(), "task_id=task-1")

	stderr := new(bytes.Buffer)
	require.Equal(t, 1, TriggerCommand(context.Background(), queue, TriggerOptions{Stderr: stderr}))

	failing := &stubQueue{err: errors.New("already queued")}
	require.Equal(t, 1, TriggerCommand(context.Background(), failing, TriggerOptions{Task: "alerts:sweep", Stderr: stderr}))
	require.Contains(t, stderr.String(), "already queued")
}

func TestStatsCommandJSON(t *testing.T) {
	stdout := new(bytes.Buffer)
	require.Equal(t, 0, StatsCommand(context.Background(), &stubQueue{}, true, stdout, nil))

	var stats QueueStats
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &stats))
	require.Equal(t, 2, stats.Pending)
	require.Equal(t, 1, stats.Retry)
}
