// Package metrics provides Prometheus-based metrics collection for nemesis.
// A one-shot scan records into a private registry that is discarded with the
// process; the watch command exposes the same registry over HTTP.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace for all nemesis metrics
	namespace = "nemesis"

	// Subsystems
	subsystemScan        = "scan"
	subsystemFingerprint = "fingerprint"
	subsystemRun         = "run"
)

// Scan attempt modes.
const (
	ModePrimary  = "primary"
	ModeFallback = "fallback"
)

// Outcome labels.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Scan metrics
	scanAttempts *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	fallbacks    *prometheus.CounterVec
	portsFound   *prometheus.CounterVec

	// Fingerprint metrics
	fingerprints *prometheus.CounterVec

	// Run metrics
	runsTotal   *prometheus.CounterVec
	lastSuccess prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{registry: registry}
	pm.initScanMetrics()
	pm.initFingerprintMetrics()
	pm.initRunMetrics()

	registry.MustRegister(
		pm.scanAttempts,
		pm.scanDuration,
		pm.fallbacks,
		pm.portsFound,
		pm.fingerprints,
		pm.runsTotal,
		pm.lastSuccess,
	)

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initScanMetrics initializes scan-related metrics
func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scanAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "attempts_total",
			Help:      "Scan service invocations by mode and status",
		},
		[]string{"mode", "status"},
	)

	pm.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of a target workflow from first attempt to completion",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
		[]string{"tier", "status"},
	)

	pm.fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "fallbacks_total",
			Help:      "Degraded-mode retries by primary failure code",
		},
		[]string{"reason"},
	)

	pm.portsFound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "ports_total",
			Help:      "Port records returned by the scan service",
		},
		[]string{"mode"},
	)
}

// initFingerprintMetrics initializes fingerprinting metrics
func (pm *PrometheusMetrics) initFingerprintMetrics() {
	pm.fingerprints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemFingerprint,
			Name:      "total",
			Help:      "Web endpoint fingerprinting attempts by status",
		},
		[]string{"status"},
	)
}

// initRunMetrics initializes run-level metrics
func (pm *PrometheusMetrics) initRunMetrics() {
	pm.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemRun,
			Name:      "total",
			Help:      "Completed runs by status",
		},
		[]string{"status"},
	)

	pm.lastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemRun,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that persisted a result",
		},
	)
}

// GetRegistry returns the Prometheus registry
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// Every recording method is safe on a nil receiver so callers that do not
// care about metrics can pass nil.

// IncrementScanAttempts counts one scan service call.
func (pm *PrometheusMetrics) IncrementScanAttempts(mode, status string) {
	if pm == nil {
		return
	}
	pm.scanAttempts.WithLabelValues(mode, status).Inc()
}

// RecordScanDuration records a target workflow duration.
func (pm *PrometheusMetrics) RecordScanDuration(tier, status string, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.scanDuration.WithLabelValues(tier, status).Observe(duration.Seconds())
}

// IncrementFallbacks counts a degraded-mode retry.
func (pm *PrometheusMetrics) IncrementFallbacks(reason string) {
	if pm == nil {
		return
	}
	pm.fallbacks.WithLabelValues(reason).Inc()
}

// AddPortsFound adds count port records returned in mode.
func (pm *PrometheusMetrics) AddPortsFound(mode string, count int) {
	if pm == nil {
		return
	}
	pm.portsFound.WithLabelValues(mode).Add(float64(count))
}

// IncrementFingerprints counts one fingerprinting attempt.
func (pm *PrometheusMetrics) IncrementFingerprints(status string) {
	if pm == nil {
		return
	}
	pm.fingerprints.WithLabelValues(status).Inc()
}

// RecordRun counts a finished run and, on success, stamps the time.
func (pm *PrometheusMetrics) RecordRun(status string, at time.Time) {
	if pm == nil {
		return
	}
	pm.runsTotal.WithLabelValues(status).Inc()
	if status == StatusSuccess {
		pm.lastSuccess.Set(float64(at.Unix()))
	}
}

var (
	globalMetrics *PrometheusMetrics
	globalOnce    sync.Once
)

// GetGlobalMetrics returns the process-wide metrics instance.
func GetGlobalMetrics() *PrometheusMetrics {
	globalOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
