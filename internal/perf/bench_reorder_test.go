package perf

import (
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/alerts"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/reorder"
)

// A nightly run evaluates every inventory record; the pure parts must stay
// far below a millisecond per pair so the batch is dominated by I/O.
func TestReorderCalculationLatencyTargets(t *testing.T) {
	params := reorder.Params{
		AverageDailyDemand: reorder.AverageDailyDemand(1234, 30),
		LeadTimeDays:       7,
		SafetyFactor:       decimal.RequireFromString("0.2"),
		Available:          17,
		MinOrderQuantity:   10,
	}
	samples := make([]time.Duration, 0, 500)
	for i := 0; i < cap(samples); i++ {
		start := time.Now()
		s := reorder.Calculate(params)
		samples = append(samples, time.Since(start))
		if !s.ShouldOrder {
			t.Fatal("expected an order suggestion")
		}
	}
	if p95 := percentile95(samples); p95 > time.Millisecond {
		t.Fatalf("calculate latency regression: p95=%s", p95)
	}
}

func TestAlertRuleLatencyTargets(t *testing.T) {
	product := masterdata.Product{ID: 1, ReorderPoint: 20, IsActive: true}
	samples := make([]time.Duration, 0, 500)
	for i := 0; i < cap(samples); i++ {
		rec := inventory.Record{ID: int64(i), ProductID: 1, WarehouseID: 1, OnHand: int64(i % 40)}
		start := time.Now()
		_ = alerts.StockConditions(rec, product)
		samples = append(samples, time.Since(start))
	}
	if p95 := percentile95(samples); p95 > time.Millisecond {
		t.Fatalf("stock rule latency regression: p95=%s", p95)
	}
}

func BenchmarkCalculate(b *testing.B) {
	params := reorder.Params{
		AverageDailyDemand: reorder.AverageDailyDemand(150, 30),
		LeadTimeDays:       7,
		SafetyFactor:       decimal.RequireFromString("0.2"),
		Available:          10,
		MinOrderQuantity:   10,
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = reorder.Calculate(params)
	}
}

func BenchmarkStockConditions(b *testing.B) {
	product := masterdata.Product{ID: 1, ReorderPoint: 20, IsActive: true}
	rec := inventory.Record{ID: 1, ProductID: 1, WarehouseID: 1, OnHand: 12}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = alerts.StockConditions(rec, product)
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	return sorted[index]
}
