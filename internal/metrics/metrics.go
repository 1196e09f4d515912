// Package metrics provides Prometheus metrics for the preview server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uigen_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uigen_store_operations_total",
			Help: "Virtual file store operations by kind and result",
		},
		[]string{"op", "result"},
	)

	generationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uigen_generations_total",
			Help: "Regeneration cycles by outcome (committed, superseded, failed)",
		},
		[]string{"outcome"},
	)

	generationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "uigen_generation_duration_seconds",
			Help:    "Time from trigger to preview document",
			Buckets: prometheus.DefBuckets,
		},
	)

	compileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "uigen_compile_duration_seconds",
			Help:    "Per-file source transform time",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
	)

	compileCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uigen_compile_cache_total",
			Help: "Compile cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	diagnosticsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "uigen_diagnostics_total",
			Help: "Transformer diagnostics produced",
		},
	)

	placeholdersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "uigen_unresolved_imports_total",
			Help: "Local imports replaced by placeholder modules",
		},
	)

	handlesLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uigen_handles_live",
			Help: "Module handles currently resolvable",
		},
	)

	handlesRetiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "uigen_handles_retired_total",
			Help: "Module handles released",
		},
	)

	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uigen_sessions_active",
			Help: "Number of live sessions",
		},
	)

	snapshotsSavedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uigen_snapshots_saved_total",
			Help: "Snapshot persistence attempts by backend and result",
		},
		[]string{"backend", "result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records a completed HTTP request.
func RecordHTTPRequest(method, route string, status int) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// RecordStoreOp records a store operation; err==nil counts as ok.
func RecordStoreOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOperationsTotal.WithLabelValues(op, result).Inc()
}

// RecordGeneration records the outcome and duration of a regeneration.
func RecordGeneration(outcome string, d time.Duration) {
	generationsTotal.WithLabelValues(outcome).Inc()
	if outcome == "committed" {
		generationDuration.Observe(d.Seconds())
	}
}

// RecordCompile records one source transform.
func RecordCompile(d time.Duration, diagnostic bool) {
	compileDuration.Observe(d.Seconds())
	if diagnostic {
		diagnosticsTotal.Inc()
	}
}

// RecordCompileCache records a compile cache lookup.
func RecordCompileCache(hit bool) {
	if hit {
		compileCacheTotal.WithLabelValues("hit").Inc()
	} else {
		compileCacheTotal.WithLabelValues("miss").Inc()
	}
}

// RecordPlaceholders adds n synthesized placeholder modules.
func RecordPlaceholders(n int) {
	placeholdersTotal.Add(float64(n))
}

// AddLiveHandles adjusts the live handle gauge.
func AddLiveHandles(n int) {
	handlesLive.Add(float64(n))
}

// RecordRetired records released handles.
func RecordRetired(n int) {
	handlesLive.Sub(float64(n))
	handlesRetiredTotal.Add(float64(n))
}

// SetSessionsActive sets the live session gauge.
func SetSessionsActive(n int) {
	sessionsActive.Set(float64(n))
}

// RecordSnapshotSave records a persistence attempt.
func RecordSnapshotSave(backend string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	snapshotsSavedTotal.WithLabelValues(backend, result).Inc()
}
