package opshttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/penthu-app/penthu-web/internal/health"
	"github.com/penthu-app/penthu-web/internal/httpmw"
	"github.com/penthu-app/penthu-web/internal/log"
	"github.com/penthu-app/penthu-web/internal/xerrors"
)

const DefaultPort = 9000

// NewHandler builds the ops mux: probes, build info, /metrics and optionally pprof,
// reachable from non-public networks only.
func NewHandler(L log.Logger, opts *Options) http.Handler {
	mux := http.NewServeMux()

	// both spellings, orchestrators and prometheus-style checks differ
	mux.Handle("/healthz", health.HealthzHandler(opts.Health))
	mux.Handle("/-/healthy", health.HealthzHandler(opts.Health))
	mux.Handle("/readyz", health.ReadyzHandler(opts.Readiness))
	mux.Handle("/-/ready", health.ReadyzHandler(opts.Readiness))

	started := opts.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	mux.Handle("/-/version", buildInfoHandler(opts.Build, started))

	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}

	// pprof (or shadow with 404s)
	if opts.EnablePprof {
		RegisterPprof(mux)
	} else {
		mux.HandleFunc("/debug/pprof/", func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}

	var h http.Handler = requireNonPublicNetwork(L, mux)
	if opts.UseRecoverMW {
		h = httpmw.Recover(L, opts.OnPanic)(h)
	}
	return h
}

// Start admin HTTP server with probes, /metrics and pprof debug endpoints
// Returns stop(ctx) for graceful shutdown
func Start(ctx context.Context, L log.Logger, opts *Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(port))

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(L, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// pprof/profile streams for up to 30s by default
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "could not listen for admin port on addr=%v", addr)
	}

	go func() {
		L.Info(ctx, "ops http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, "ops http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "ops http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
