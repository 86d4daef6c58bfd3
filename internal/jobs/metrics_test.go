package jobmetrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, registry *prometheus.Registry) string {
	t.Helper()
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestTrackerRecordsOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	require.NoError(t, m.Track("reorder:run").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("reorder:run").End(boom), boom)

	body := scrape(t, registry)
	require.Contains(t, body, `odyssey_jobs_total{job="reorder:run",status="success"} 1`)
	require.Contains(t, body, `odyssey_jobs_total{job="reorder:run",status="failure"} 1`)
	require.Contains(t, body, `odyssey_jobs_failures_total{job="reorder:run"} 1`)
	require.Contains(t, body, `odyssey_job_duration_seconds_count{job="reorder:run"} 2`)
}

func TestDomainCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.DraftCreated()
	m.DraftCreated()
	m.PairFailed()
	m.Raised("OUT_OF_STOCK")
	m.Resolved("OUT_OF_STOCK")
	m.Skipped("alerts:sweep")

	body := scrape(t, registry)
	require.Contains(t, body, "odyssey_reorder_drafts_total 2")
	require.Contains(t, body, "odyssey_reorder_pair_failures_total 1")
	require.Contains(t, body, `odyssey_alerts_raised_total{type="OUT_OF_STOCK"} 1`)
	require.Contains(t, body, `odyssey_alerts_auto_resolved_total{type="OUT_OF_STOCK"} 1`)
	require.Contains(t, body, `odyssey_jobs_skipped_total{job="alerts:sweep"} 1`)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.DraftCreated()
	m.Raised("LOW_STOCK")
	m.Skipped("reorder:run")
	require.NoError(t, m.Track("x").End(nil))
}
