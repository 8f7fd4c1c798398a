package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/penthu-app/penthu-web/internal/version"
)

// otherLabel absorbs label values outside a known set.
const otherLabel = "other"

type ServerMetrics struct {
	reg            *prometheus.Registry
	handler        http.Handler
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	ratelimitDeniedTotal   *prometheus.CounterVec
	ratelimitCapacityTotal prometheus.Counter
	sizeRejectedTotal      prometheus.Counter
	staticNotFoundTotal    *prometheus.CounterVec

	// notification mailbox and download flow
	notificationsSetTotal   *prometheus.CounterVec
	notificationsTakenTotal *prometheus.CounterVec
	sessionStoreErrorsTotal prometheus.Counter
	downloadsTotal          *prometheus.CounterVec
	storeClicksTotal        *prometheus.CounterVec

	profilingActive prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
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
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 52428800, 209715200},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by the rate limiter, by route",
		}, []string{"route"}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times the rate limiter table was full",
		}),
		sizeRejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_too_large_total",
			Help: "Total requests rejected for a declared body over the limit",
		}),
		staticNotFoundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "static_not_found_total",
			Help: "Total 404s served by static mounts",
		}, []string{"mount"}),
		notificationsSetTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_notifications_set_total",
			Help: "Total notifications stored, by kind",
		}, []string{"kind"}),
		notificationsTakenTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_notifications_taken_total",
			Help: "Total mailbox reads, by result (found, empty)",
		}, []string{"result"}),
		sessionStoreErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_store_errors_total",
			Help: "Total session store failures surfaced to handlers",
		}),
		downloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "downloads_total",
			Help: "Total download requests, by result (available, unavailable, error)",
		}, []string{"result"}),
		storeClicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_clicks_total",
			Help: "Total store button presses, by store",
		}, []string{"store"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.sizeRejectedTotal,
		m.staticNotFoundTotal,
		m.notificationsSetTotal,
		m.notificationsTakenTotal,
		m.sessionStoreErrorsTotal,
		m.downloadsTotal,
		m.storeClicksTotal,
		m.profilingActive,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// Registry exposes the registry for collectors owned by other packages.
func (m *ServerMetrics) Registry() *prometheus.Registry {
	return m.reg
}

// set once at startup.
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
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitDenied(route string) {
	m.ratelimitDeniedTotal.WithLabelValues(route).Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) IncRequestTooLarge() {
	m.sizeRejectedTotal.Inc()
}

func (m *ServerMetrics) IncStaticNotFound(mount string) {
	m.staticNotFoundTotal.WithLabelValues(mount).Inc()
}

// IncNotificationSet counts a stored notification. Kind is an open set, so
// anything outside the rendered four is folded into "other".
func (m *ServerMetrics) IncNotificationSet(kind string) {
	switch kind {
	case "info", "success", "warning", "error":
	default:
		kind = otherLabel
	}
	m.notificationsSetTotal.WithLabelValues(kind).Inc()
}

func (m *ServerMetrics) IncNotificationTaken(found bool) {
	result := "empty"
	if found {
		result = "found"
	}
	m.notificationsTakenTotal.WithLabelValues(result).Inc()
}

func (m *ServerMetrics) IncSessionStoreError() {
	m.sessionStoreErrorsTotal.Inc()
}

func (m *ServerMetrics) IncDownload(result string) {
	m.downloadsTotal.WithLabelValues(result).Inc()
}

// IncStoreClick takes the raw path value; unknown stores share one label.
func (m *ServerMetrics) IncStoreClick(store string) {
	switch store {
	case "appstore", "playstore":
	default:
		store = otherLabel
	}
	m.storeClicksTotal.WithLabelValues(store).Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}
