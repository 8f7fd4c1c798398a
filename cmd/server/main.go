package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/penthu-app/penthu-web/internal/cfg"
	"github.com/penthu-app/penthu-web/internal/health"
	"github.com/penthu-app/penthu-web/internal/httpmw"
	"github.com/penthu-app/penthu-web/internal/httpserver"
	"github.com/penthu-app/penthu-web/internal/log"
	"github.com/penthu-app/penthu-web/internal/metrics"
	"github.com/penthu-app/penthu-web/internal/opshttp"
	"github.com/penthu-app/penthu-web/internal/otelx"
	"github.com/penthu-app/penthu-web/internal/prof"
	"github.com/penthu-app/penthu-web/internal/ratelimit"
	"github.com/penthu-app/penthu-web/internal/render"
	"github.com/penthu-app/penthu-web/internal/session"
	"github.com/penthu-app/penthu-web/internal/sitehttp"
	v "github.com/penthu-app/penthu-web/internal/version"
	"github.com/penthu-app/penthu-web/internal/webassets"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	if wantsVersion(os.Args[1:]) {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// flags > PENTHU_* env > .env > defaults
	conf, err := cfg.Load(os.Args[0], os.Args[1:], ".env", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging, levels were checked by Validate
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               vi.AppName,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "web")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_host", conf.HTTPHost,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"static_dir", conf.StaticDir,
		"asset_dir", conf.AssetDir,
		"asset_s3_bucket", conf.AssetS3Bucket,
		"redis_addr", conf.RedisAddr,
		"session_secure", conf.SessionSecure,
		"trusted_proxy_hops", conf.TrustedProxyHops,
		"allowed_hosts", conf.AllowedHosts,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(vi.AppName, "web", vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       vi.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		AuthToken:     os.Getenv("PYROSCOPE_AUTH_TOKEN"),
		Build:         vi,
		Tags: map[string]string{
			"component": "web",
			"source":    "go-agent",
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  conf.OTLPInsecure,
		Sample:    conf.TraceSample,
		Service:   vi.AppName,
		Component: "web",
		Build:     vi,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// sessions
	key, err := sessionKey(ctx, L, &conf, ssmKeySource)
	if err != nil {
		L.Error(ctx, err, "failed to resolve session key")
		os.Exit(1)
	}
	store, storeProbe, closeStore, err := sessionStore(ctx, L, &conf)
	if err != nil {
		L.Error(ctx, err, "failed to open session store")
		os.Exit(1)
	}
	defer func() { _ = closeStore() }()

	onSet, onTake := sessionHooks(m)
	sessions, err := session.NewManager(session.Options{
		Logger:     L,
		Store:      store,
		CookieName: conf.SessionCookie,
		HashKey:    key,
		Secure:     conf.SessionSecure,
		TTL:        conf.SessionTTL,
		OnSet:      onSet,
		OnTake:     onTake,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create session manager")
		os.Exit(1)
	}

	renderer, err := render.New(webassets.TemplatesFS())
	if err != nil {
		L.Error(ctx, err, "failed to parse templates")
		os.Exit(1)
	}

	locator, err := assetLocator(ctx, L, &conf)
	if err != nil {
		L.Error(ctx, err, "failed to set up the download asset")
		os.Exit(1)
	}

	static, err := staticMounts(L, &conf, m.IncStaticNotFound)
	if err != nil {
		L.Error(ctx, err, "failed to set up static mounts")
		os.Exit(1)
	}

	// Setup per client, per route rate limits
	limiter := ratelimit.New(ctx,
		ratelimit.WithOnDenied(func(_, route string) {
			m.IncRateLimitDenied(route)
		}),
		// only log the first denial per window for a client
		ratelimit.WithOnFirstDenied(httpserver.DenyLogger(L, 10*time.Second)),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	routes, err := sitehttp.New(sitehttp.Options{
		Logger:       L,
		Sessions:     sessions,
		Renderer:     renderer,
		Assets:       locator,
		Limit:        httpserver.RouteLimits(limiter, routeBudgets(&conf)),
		OnDownload:   m.IncDownload,
		OnStoreClick: m.IncStoreClick,
		OnStoreError: m.IncSessionStoreError,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create routes")
		os.Exit(1)
	}

	// setup toggle for server shutdown
	var gate health.ShutdownGate
	readiness := health.All(gate.Probe(), storeProbe)

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:          L,
		Host:            conf.HTTPHost,
		Port:            conf.HTTPPort,
		UseRecoverMW:    true,
		OnPanic:         m.IncHttpPanic,
		MetricsMW:       m.Middleware,
		MaxRequestBytes: conf.MaxRequestBytes,
		OnTooLarge:      m.IncRequestTooLarge,
		ClientIPOpts:    httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		AllowedHosts:    cfg.SplitList(conf.AllowedHosts),
		CORS:            httpmw.CORSOptions{AllowedOrigins: cfg.SplitList(conf.CORSOrigins)},
		Static:          static,
		Sessions:        sessions.Middleware,
		Routes:          routes.RegisterRoutes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// ops listener refuses public callers, see opshttp
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		Build:        vi,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// systemd will kill us after its timeout if it was waiting
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	stop()
	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed", "drain", conf.ShutdownDrain.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.ShutdownDrain):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "site http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := closeStore(); err != nil {
		L.Error(context.Background(), err, "session store close")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// wantsVersion reports whether -V was passed. It is checked before config
// loading so the binary can print its version without a valid environment.
func wantsVersion(args []string) bool {
	for _, a := range args {
		switch a {
		case "-V", "--V", "-version", "--version":
			return true
		case "--":
			return false
		}
	}
	return false
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit is Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify: close: %w", err)
	}
	return nil
}
