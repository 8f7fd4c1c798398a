package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"filippo.io/csrf"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/penthu-app/penthu-web/internal/httpmw"
	"github.com/penthu-app/penthu-web/internal/log"
	"github.com/penthu-app/penthu-web/internal/xerrors"
)

const DefaultPort = 8000

// NewHandler builds an HTTP handler with routes + middleware
// main() owns *http.Server so it can do graceful shutdown
func NewHandler(opts *Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	// chi router
	r := chi.NewRouter()

	// Compress text responses (HTML/CSS/JS/JSON/SVG)
	r.Use(middleware.Compress(5,
		"text/html",
		"text/css",
		"application/javascript",
		"text/javascript",
		"application/json",
		"image/svg+xml",
	))

	// Annotate tracer with http.route from chi route pattern if trace is recording
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())

	r.NotFound(notFound)

	for prefix, h := range opts.Static {
		prefix = strings.TrimSuffix(prefix, "/")
		r.Handle(prefix+"/*", h)
	}

	if opts.Routes != nil {
		r.Group(func(g chi.Router) {
			if opts.Sessions != nil {
				g.Use(opts.Sessions)
			}
			opts.Routes(g)
		})
	}

	// Security headers outermost to ensure they are served on every response
	policy := httpmw.DefaultSecurityPolicy()
	if opts.Security != nil {
		policy = *opts.Security
	}
	secure, err := httpmw.SecurityHeaders(policy)
	if err != nil {
		logger.Error(context.Background(), err, "security policy invalid, serving fallback headers")
	}

	var recoverMW func(http.Handler) http.Handler
	if opts.UseRecoverMW {
		recoverMW = httpmw.Recover(logger, opts.OnPanic)
	}

	// outermost first; nil stages are skipped
	return httpmw.Chain(r,
		secure,
		recoverMW,
		// outer so everything downstream sees it
		httpmw.RequestID("X-Request-Id"),
		// before the rate limiter and logging
		httpmw.ClientIPWithOptions(opts.ClientIPOpts),
		httpmw.TrustedHosts(opts.AllowedHosts),
		// oversized bodies never reach a rate limit counter or handler
		httpmw.SizeGuard(opts.MaxRequestBytes, opts.OnTooLarge),
		httpmw.CORS(opts.CORS),
		otelMiddleware,
		// add trace-id headers to any requests with a recording trace
		httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id"),
		opts.MetricsMW,
		// inner so it sees trace_id, etc
		httpmw.WithLogger(logger),
		// cross-origin POSTs are refused with 403 before any route runs
		csrf.New().Handler,
	)
}

func otelMiddleware(next http.Handler) http.Handler {
	return otelhttp.NewHandler(
		next,
		"http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return shouldTrace(r.URL.Path)
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			// AnnotateHTTPRoute will rename the span later to the final route pattern
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(r *http.Request) bool { return true }),
	)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	http.NotFound(w, r)
}

// shouldTrace decides which requests get traced
func shouldTrace(p string) bool {
	if p == "/favicon.ico" || p == "/robots.txt" || p == "/health" {
		return false
	}
	// polled every few seconds by open tabs
	if p == "/notification" {
		return false
	}

	// dont trace static asset extensions
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".js", ".png", ".jpg", ".jpeg", ".webp", ".svg", ".ico", ".woff", ".woff2", ".map":
		return false
	}
	return true
}

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Minute // the apk on a slow link
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start public HTTP server
// Returns stop(ctx) for graceful shutdown
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(port))

	handler := NewHandler(opts)
	srv := NewServer(addr, handler)

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.EnsureTrace(err)
	}

	go func() {
		opts.Logger.Info(ctx, "http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opts.Logger.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			opts.Logger.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
