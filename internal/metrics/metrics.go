// Package metrics exposes Prometheus collectors for the sync pipeline.
//
// All recorder methods are safe to call on a nil *Metrics, so components can
// be constructed without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stocksync"

// Metrics holds the pipeline collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	pagesFetched     *prometheus.CounterVec
	itemsFetched     prometheus.Counter
	upstreamRetries  *prometheus.CounterVec
	tokenRefreshes   *prometheus.CounterVec
	reconcileWrites  *prometheus.CounterVec
	syncRuns         *prometheus.CounterVec
	syncDuration     prometheus.Histogram
	lastSuccessfulAt prometheus.Gauge
}

// New creates Metrics registered in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Upstream pages fetched, by source.",
		}, []string{"source"}),
		itemsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_fetched_total",
			Help:      "Raw items fetched from the point-of-sale API.",
		}),
		upstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Backoff retries, by source and HTTP status.",
		}, []string{"source", "status"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "OAuth refresh-token exchanges, by outcome.",
		}, []string{"outcome"}),
		reconcileWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_writes_total",
			Help:      "Reconciliation writes, by target and outcome.",
		}, []string{"target", "outcome"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync runs, by final status.",
		}, []string{"status"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_run_duration_seconds",
			Help:      "Wall time of sync runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		lastSuccessfulAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful sync run.",
		}),
	}

	m.registry.MustRegister(
		m.pagesFetched,
		m.itemsFetched,
		m.upstreamRetries,
		m.tokenRefreshes,
		m.reconcileWrites,
		m.syncRuns,
		m.syncDuration,
		m.lastSuccessfulAt,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PageFetched records one fetched page carrying n items.
func (m *Metrics) PageFetched(source string, n int) {
	if m == nil {
		return
	}
	m.pagesFetched.WithLabelValues(source).Inc()
	if source == SourceLightspeed {
		m.itemsFetched.Add(float64(n))
	}
}

// UpstreamRetry records one backoff retry.
func (m *Metrics) UpstreamRetry(source string, status int) {
	if m == nil {
		return
	}
	m.upstreamRetries.WithLabelValues(source, strconv.Itoa(status)).Inc()
}

// TokenRefresh records one token exchange.
func (m *Metrics) TokenRefresh(ok bool) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(outcome(ok)).Inc()
}

// ReconcileWrite records one downstream write attempt.
func (m *Metrics) ReconcileWrite(target string, ok bool) {
	if m == nil {
		return
	}
	m.reconcileWrites.WithLabelValues(target, outcome(ok)).Inc()
}

// SyncRun records a finished run.
func (m *Metrics) SyncRun(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(status).Inc()
	m.syncDuration.Observe(elapsed.Seconds())
	if status == StatusSuccess {
		m.lastSuccessfulAt.SetToCurrentTime()
	}
}

// Label values shared by callers.
const (
	SourceLightspeed  = "lightspeed"
	SourceBigCommerce = "bigcommerce"

	TargetStore    = "store"
	TargetPlatform = "bigcommerce"

	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
