// Package metrics exposes Prometheus collectors for extractions and the job
// pipeline.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for extractions.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
)

// Metrics owns its registry so several instances can coexist in tests.
type Metrics struct {
	reg *prometheus.Registry

	extractions       *prometheus.CounterVec
	extractionLatency *prometheus.HistogramVec
	fieldsFound       *prometheus.CounterVec
	jobs              *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	queueDepth        prometheus.Gauge

	jobsSucceeded int64
	jobsFailed    int64
	degraded      int64
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		extractions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "incident_extractions_total",
			Help: "Extraction calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		extractionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "incident_extraction_duration_seconds",
			Help:    "Model round trip time per extraction",
			Buckets: []float64{.25, .5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"provider"}),
		fieldsFound: f.NewCounterVec(prometheus.CounterOpts{
			Name: "incident_extraction_fields_found_total",
			Help: "Fields returned with a non-empty value",
		}, []string{"provider"}),
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "incident_jobs_total",
			Help: "Pipeline jobs by stage and final status",
		}, []string{"stage", "status"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "incident_job_duration_seconds",
			Help:    "Time taken to execute pipeline jobs",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "incident_job_queue_depth",
			Help: "Jobs waiting in the runner queue",
		}),
	}
}

// ObserveExtraction records one provider call.
func (m *Metrics) ObserveExtraction(provider, _ string, elapsed time.Duration, found int, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeDegraded
		atomic.AddInt64(&m.degraded, 1)
	}
	m.extractions.WithLabelValues(provider, outcome).Inc()
	m.extractionLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
	m.fieldsFound.WithLabelValues(provider).Add(float64(found))
}

// ObserveJob records a finished job.
func (m *Metrics) ObserveJob(stage, status string, elapsed time.Duration) {
	m.jobs.WithLabelValues(stage, status).Inc()
	m.jobDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	switch status {
	case "succeeded":
		atomic.AddInt64(&m.jobsSucceeded, 1)
	case "failed":
		atomic.AddInt64(&m.jobsFailed, 1)
	}
}

func (m *Metrics) SetQueueDepth(n int) { m.queueDepth.Set(float64(n)) }

// Snapshot is the small summary shown on /ops/status.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"jobs_succeeded":       atomic.LoadInt64(&m.jobsSucceeded),
		"jobs_failed":          atomic.LoadInt64(&m.jobsFailed),
		"extractions_degraded": atomic.LoadInt64(&m.degraded),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
