// Package metrics exposes Prometheus instrumentation for the scan pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "plantscan"

// Metrics groups the collectors registered on a private registry.
type Metrics struct {
	registry          *prometheus.Registry
	scansStarted      prometheus.Counter
	scanOutcomes      *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec
	historyEntries    prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scansStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_started_total",
			Help:      "Number of analyses started.",
		}),
		scanOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_outcomes_total",
			Help:      "Finished analyses by outcome.",
		}, []string{"outcome"}),
		inferenceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Latency of inference service calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"result"}),
		historyEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_entries",
			Help:      "Number of stored scan results.",
		}),
	}
	m.registry.MustRegister(
		m.scansStarted,
		m.scanOutcomes,
		m.inferenceDuration,
		m.historyEntries,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ScanStarted counts an accepted Analyze.
func (m *Metrics) ScanStarted() {
	if m == nil {
		return
	}
	m.scansStarted.Inc()
}

// ScanFinished records the terminal outcome, "complete" or an error kind.
func (m *Metrics) ScanFinished(outcome string) {
	if m == nil {
		return
	}
	m.scanOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveInference records the latency of one inference call, labelled by
// whether it failed.
func (m *Metrics) ObserveInference(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.inferenceDuration.WithLabelValues(result).Observe(d.Seconds())
}

// SetHistoryEntries tracks the current history length.
func (m *Metrics) SetHistoryEntries(n int) {
	if m == nil {
		return
	}
	m.historyEntries.Set(float64(n))
}
