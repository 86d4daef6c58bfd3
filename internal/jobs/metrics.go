package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs and the domain
// events they drive.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	drafts        prometheus.Counter
	pairFailures  prometheus.Counter
	alertsRaised  *prometheus.CounterVec
	alertsCleared *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// Skipped counts a run that did not start because another holder owned the
// job lock.
func (m *Metrics) Skipped(job string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(job).Inc()
}

// DraftCreated counts an automatically raised DRAFT purchase order.
func (m *Metrics) DraftCreated() {
	if m == nil {
		return
	}
	m.drafts.Inc()
}

// PairFailed counts a product/warehouse pair the reorder engine could not evaluate.
func (m *Metrics) PairFailed() {
	if m == nil {
		return
	}
	m.pairFailures.Inc()
}

// Raised counts a new ACTIVE alert.
func (m *Metrics) Raised(alertType string) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(alertType).Inc()
}

// Resolved counts an alert closed because its condition cleared.
func (m *Metrics) Resolved(alertType string) {
	if m == nil {
		return
	}
	m.alertsCleared.WithLabelValues(alertType).Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_skipped_total",
		Help: "Scheduled runs skipped because a previous run still held the lock.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	drafts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_reorder_drafts_total",
		Help: "DRAFT purchase orders raised by the reorder engine.",
	})
	pairFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_reorder_pair_failures_total",
		Help: "Product/warehouse pairs the reorder engine failed to evaluate.",
	})
	raised := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_alerts_raised_total",
		Help: "Alerts raised grouped by type.",
	}, []string{"type"})
	cleared := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_alerts_auto_resolved_total",
		Help: "Alerts resolved automatically because the condition cleared.",
	}, []string{"type"})
	registerer.MustRegister(runs, failures, skipped, duration, drafts, pairFailures, raised, cleared)
	return &Metrics{
		runs:          runs,
		failures:      failures,
		skipped:       skipped,
		duration:      duration,
		drafts:        drafts,
		pairFailures:  pairFailures,
		alertsRaised:  raised,
		alertsCleared: cleared,
	}
}
