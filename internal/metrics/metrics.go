// Package metrics owns the service's private Prometheus registry. The
// ServerMetrics methods satisfy the narrow metrics interfaces declared by
// the packages that record them.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/version"
)

const namespace = "cdninv"

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// http
	inflight             prometheus.Gauge
	reqTotal             *prometheus.CounterVec
	reqDur               *prometheus.HistogramVec
	respBytes            *prometheus.HistogramVec
	errorsTotal          *prometheus.CounterVec
	httpPanicTotal       prometheus.Counter
	ratelimitDeniedTotal prometheus.Counter
	ratelimitCapacity    prometheus.Counter
	webhookAuthFailures  *prometheus.CounterVec

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge

	// invalidation pipeline
	eventsTotal        *prometheus.CounterVec
	invalidationsTotal *prometheus.CounterVec
	dispatchDuration   prometheus.Histogram
	invalidationPaths  prometheus.Histogram

	// settings watcher
	settingsPolls       prometheus.Counter
	settingsSwaps       prometheus.Counter
	settingsErrors      *prometheus.CounterVec
	settingsLastSuccess prometheus.Gauge
	settingsStale       prometheus.Gauge
	settingsInfo        *prometheus.GaugeVec
}

// New returns a fresh registry with the Go and process collectors and every
// service metric registered. Labels are bounded: routes are chi patterns,
// never raw paths.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{64, 256, 1024, 4096, 16384, 65536},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times the rate limiter visitor table filled up",
		}),
		webhookAuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_auth_failures_total",
			Help: "Webhook requests rejected by signature verification, by reason",
		}, []string{"reason"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Content events evaluated by the gate, by source, decision and reason",
		}, []string{"source", "decision", "reason"}),
		invalidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidations_total",
			Help:      "Invalidation dispatches by outcome",
		}, []string{"outcome"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent creating a CDN invalidation",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		invalidationPaths: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invalidation_paths",
			Help:      "Number of paths per invalidation request",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		settingsPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settings_polls_total",
			Help:      "Total number of settings reload attempts",
		}),
		settingsSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settings_swaps_total",
			Help:      "Total number of settings snapshot swaps",
		}),
		settingsErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settings_errors_total",
			Help:      "Settings reload errors by type",
		}, []string{"type"}),
		settingsLastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "settings_last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last successful settings fetch",
		}),
		settingsStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "settings_stale",
			Help:      "Whether the settings watcher is stale (1) or healthy (0)",
		}),
		settingsInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "settings_info",
			Help:      "Active settings snapshot (labels carry identity, value is always 1)",
		}, []string{"hash", "source"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacity,
		m.webhookAuthFailures,
		m.buildInfo,
		m.profilingActive,
		m.eventsTotal,
		m.invalidationsTotal,
		m.dispatchDuration,
		m.invalidationPaths,
		m.settingsPolls,
		m.settingsSwaps,
		m.settingsErrors,
		m.settingsLastSuccess,
		m.settingsStale,
		m.settingsInfo,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// Registry is exposed for tests and ad-hoc collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncHttpPanic()         { m.httpPanicTotal.Inc() }
func (m *ServerMetrics) IncRateLimitDenied()   { m.ratelimitDeniedTotal.Inc() }
func (m *ServerMetrics) IncRateLimitCapacity() { m.ratelimitCapacity.Inc() }

func (m *ServerMetrics) IncWebhookAuthFailure(reason string) {
	m.webhookAuthFailures.WithLabelValues(reason).Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolGauge(active))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
