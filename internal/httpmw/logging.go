package httpmw

import (
	"context"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/penthu-app/penthu-web/internal/log"
)

const tracerName = "penthu/httpmw"

// responseTracker records status and size of what the handler wrote and
// times the write phase in a "response.write" span.
type responseTracker struct {
	ctx      context.Context
	reqStart time.Time

	status  int
	bytes   int64
	blocked time.Duration
	err     error

	began bool
	span  trace.Span
}

// wrap returns w with the tracker hooked into WriteHeader, Write and
// ReadFrom. Optional interfaces of w (Flusher, Hijacker) are preserved.
func (t *responseTracker) wrap(w http.ResponseWriter) http.ResponseWriter {
	return httpsnoop.Wrap(w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				t.begin()
				// 1xx may precede the final status
				if t.status == 0 || code >= 200 {
					t.status = code
				}
				start := time.Now()
				next(code)
				t.blocked += time.Since(start)
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(b []byte) (int, error) {
				t.begin()
				start := time.Now()
				n, err := next(b)
				t.record(int64(n), err, time.Since(start))
				return n, err
			}
		},
		ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
			return func(src io.Reader) (int64, error) {
				t.begin()
				start := time.Now()
				n, err := next(src)
				t.record(n, err, time.Since(start))
				return n, err
			}
		},
	})
}

func (t *responseTracker) record(n int64, err error, took time.Duration) {
	if t.status == 0 {
		t.status = http.StatusOK
	}
	t.bytes += n
	t.blocked += took
	if err != nil && t.err == nil {
		t.err = err
	}
}

// begin opens the write span on the first header or body write.
func (t *responseTracker) begin() {
	if t.began {
		return
	}
	t.began = true
	ttfb := time.Since(t.reqStart)

	if !trace.SpanFromContext(t.ctx).IsRecording() {
		return
	}
	_, t.span = otel.Tracer(tracerName).Start(t.ctx, "response.write",
		trace.WithAttributes(attribute.Float64("http.server.ttfb_seconds", ttfb.Seconds())),
	)
}

func (t *responseTracker) finish() {
	if t.span == nil {
		return
	}
	t.span.SetAttributes(
		attribute.Int("http.response.status_code", t.statusOrOK()),
		attribute.Int64("http.response.body.size", t.bytes),
		attribute.Float64("http.server.write.block_seconds", t.blocked.Seconds()),
	)
	if t.err != nil {
		t.span.RecordError(t.err)
		t.span.SetStatus(codes.Error, t.err.Error())
	}
	t.span.End()
}

func (t *responseTracker) statusOrOK() int {
	if t.status == 0 {
		return http.StatusOK
	}
	return t.status
}

// WithLogger puts a request logger carrying the request id, the client
// and peer addresses, method, path and scheme into the context. Query
// strings and headers are left out.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			f := requestFields(r)

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("request_id", f.id),
					attribute.String("client.address", f.client),
					attribute.String("network.peer.address", f.peer),
					attribute.String("url.scheme", f.scheme),
				)
			}

			L := base.With(
				"request_id", f.id,
				"client.address", f.client,
				"network.peer.address", f.peer,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
				"url.scheme", f.scheme,
			)
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, L)))
		})
	}
}

type reqFields struct {
	id, client, peer, scheme string
}

func requestFields(r *http.Request) reqFields {
	f := reqFields{
		id:     RequestIDFromContext(r.Context()),
		client: ClientIPFromContext(r.Context()),
		peer:   r.RemoteAddr,
		scheme: schemeFromRequest(r),
	}
	if a, ok := peerAddr(r.RemoteAddr); ok {
		f.peer = a.String()
	}
	if f.client == "" {
		f.client = f.peer
	}
	return f
}

var staticExts = map[string]struct{}{
	".css": {}, ".js": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".webp": {},
	".svg": {}, ".ico": {}, ".woff": {}, ".woff2": {}, ".map": {},
}

// skipAccessLog drops probe traffic, static files and empty notification
// polls, which the page issues after every download click.
func skipAccessLog(r *http.Request, status int) bool {
	switch r.URL.Path {
	case "/health", "/-/ready", "/-/healthy":
		return true
	case "/notification":
		return status == http.StatusNoContent
	}
	_, ok := staticExts[strings.ToLower(path.Ext(r.URL.Path))]
	return ok
}

// AccessLog emits one "http request" line per request using the logger in
// the context, at warn for 5xx. APK downloads under /assets are logged.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			var reqBodySize int64
			if r.ContentLength > 0 {
				reqBodySize = r.ContentLength
			}

			tr := &responseTracker{ctx: r.Context(), reqStart: start}
			next.ServeHTTP(tr.wrap(w), r)
			tr.finish()

			status := tr.statusOrOK()
			if skipAccessLog(r, status) {
				return
			}

			ctx := r.Context()
			routePat := r.URL.Path
			if rc := chi.RouteContext(ctx); rc != nil && rc.RoutePattern() != "" {
				routePat = rc.RoutePattern()
			}

			logf := log.FromContext(ctx).Info
			if status >= 500 {
				logf = log.FromContext(ctx).Warn
			}
			logf(ctx, "http request",
				"http.response.status_code", status,
				"http.server.request.duration", time.Since(start).Seconds(),
				"http.response.body.size", tr.bytes,
				"http.request.body.size", reqBodySize,
				"http.route", routePat,
			)
		})
	}
}

// schemeFromRequest takes the first X-Forwarded-Proto value when it is
// http or https (ClientIP strips the header from untrusted peers), then
// the URL scheme, then whether the connection used TLS.
func schemeFromRequest(r *http.Request) string {
	first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	candidates := []string{first}
	if r.URL != nil {
		candidates = append(candidates, r.URL.Scheme)
	}
	for _, c := range candidates {
		switch s := strings.ToLower(strings.TrimSpace(c)); s {
		case "http", "https":
			return s
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// Scope tags the request logger and span with the handler name.
func Scope(handler string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			L := log.FromContext(ctx).With("handler", handler)
			ctx = log.WithContext(ctx, L)

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(attribute.String("app.handler", handler))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
