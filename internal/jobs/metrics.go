package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs         *prometheus.CounterVec
	failures     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	driftUsers   prometheus.Gauge
	driftRoles   prometheus.Gauge
	unknownRoles prometheus.Gauge
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

// RecordPermissionAudit publishes the counters of the latest audit run.
func (m *Metrics) RecordPermissionAudit(usersWithDrift, rolesWithDrift, unknownRoles int) {
	if m == nil {
		return
	}
	m.driftUsers.Set(float64(usersWithDrift))
	m.driftRoles.Set(float64(rolesWithDrift))
	m.unknownRoles.Set(float64(unknownRoles))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "venturedeck_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "venturedeck_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "venturedeck_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	driftUsers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "venturedeck_permission_drift_users",
		Help: "Users whose granted permissions differ from the catalog in the latest audit.",
	})
	driftRoles := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "venturedeck_permission_drift_roles",
		Help: "Roles whose stored links differ from the catalog in the latest audit.",
	})
	unknownRoles := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "venturedeck_permission_unknown_roles",
		Help: "Persisted role names absent from the catalog in the latest audit.",
	})
	registerer.MustRegister(runs, failures, duration, driftUsers, driftRoles, unknownRoles)
	return &Metrics{
		runs:         runs,
		failures:     failures,
		duration:     duration,
		driftUsers:   driftUsers,
		driftRoles:   driftRoles,
		unknownRoles: unknownRoles,
	}
}
