package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests no chi route claimed (404s, static misses
// before routing), keeping raw paths out of label values.
const unmatchedRoute = "unmatched"

// Middleware records inflight, totals, 5xx, latency and response size per
// method and route pattern.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// chi fills the pattern in place, so the context must exist before routing
		if chi.RouteContext(r.Context()) == nil {
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
		}

		m.inflight.Inc()
		snap := httpsnoop.CaptureMetricsFn(w, func(w http.ResponseWriter) {
			next.ServeHTTP(w, r)
		})
		m.inflight.Dec()

		method := methodLabel(r.Method)
		route := routeLabel(r)

		m.reqTotal.WithLabelValues(method, route, strconv.Itoa(snap.Code)).Inc()
		if snap.Code >= 500 {
			m.errorsTotal.WithLabelValues(method, route).Inc()
		}
		observe(m.reqDur.WithLabelValues(method, route), snap.Duration.Seconds(), traceExemplar(r.Context()))
		m.respBytes.WithLabelValues(method, route).Observe(float64(snap.Written))
	})
}

func observe(o prometheus.Observer, v float64, ex prometheus.Labels) {
	if eo, ok := o.(prometheus.ExemplarObserver); ok && ex != nil {
		eo.ObserveWithExemplar(v, ex)
		return
	}
	o.Observe(v)
}

// methodLabel folds non-standard methods so clients cannot mint label values.
func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodOptions, http.MethodConnect, http.MethodTrace:
		return method
	}
	return otherLabel
}

// routeLabel is the chi pattern, or unmatchedRoute when routing found none.
func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatchedRoute
}

// traceExemplar links a sampled trace to the latency observation.
func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
