package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/penthu-app/penthu-web/internal/log"
	"github.com/penthu-app/penthu-web/internal/secrets"
)

// EnvPrefix is prepended to upper-cased flag names, -http-port reads PENTHU_HTTP_PORT.
const EnvPrefix = "PENTHU_"

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPHost  string
	HTTPPort  int
	AdminPort int

	EnablePprof     bool
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
	EnableTracing   bool
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceSample     float64

	StaticDir     string
	AssetDir      string
	AssetFile     string
	DownloadName  string
	AssetS3Bucket string
	AssetS3Key    string
	PresignTTL    time.Duration

	SessionCookie      string
	SessionSecure      bool
	SessionTTL         time.Duration
	SessionKey         string
	SessionKeySSMParam string
	RedisAddr          string
	RedisDB            int

	CORSOrigins      string
	AllowedHosts     string
	TrustedProxyHops int
	MaxRequestBytes  int64

	RateIndex    int
	RateDownload int
	RateStore    int
	RateWindow   time.Duration

	ShutdownDrain time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.StringVar(&c.HTTPHost, "http-host", "", "listen address, empty for all interfaces")
	fs.IntVar(&c.HTTPPort, "http-port", 8000, "listen TCP port (1..65535), PORT is honoured when unset")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.BoolVar(&c.OTLPInsecure, "otlp-insecure", true, "plaintext gRPC to the collector")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.StaticDir, "static-dir", "", "directory holding css/ and js/, empty serves the built-in files")
	fs.StringVar(&c.AssetDir, "asset-dir", "assets", "directory served at /assets holding the apk")
	fs.StringVar(&c.AssetFile, "asset-file", "penthu-app.apk", "apk filename inside asset-dir")
	fs.StringVar(&c.DownloadName, "download-name", "Penthu.apk", "filename offered to the browser")
	fs.StringVar(&c.AssetS3Bucket, "asset-s3-bucket", "", "serve the apk from this S3 bucket through presigned URLs")
	fs.StringVar(&c.AssetS3Key, "asset-s3-key", "", "object key of the apk in asset-s3-bucket")
	fs.DurationVar(&c.PresignTTL, "presign-ttl", 15*time.Minute, "lifetime of presigned download URLs")

	fs.StringVar(&c.SessionCookie, "session-cookie", "penthu_session", "session cookie name")
	fs.BoolVar(&c.SessionSecure, "session-secure", true, "mark the session cookie Secure (HTTPS only)")
	fs.DurationVar(&c.SessionTTL, "session-ttl", 30*time.Minute, "session cookie and notification lifetime")
	fs.StringVar(&c.SessionKey, "session-key", "", "cookie signing key, hex or base64, at least 32 bytes")
	fs.StringVar(&c.SessionKeySSMParam, "session-key-ssm-param", "", "SSM parameter holding the cookie signing key")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis host:port for shared sessions, empty keeps them in memory")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database number")

	fs.StringVar(&c.CORSOrigins, "cors-origins", "*", "comma separated origins allowed to read pages and assets")
	fs.StringVar(&c.AllowedHosts, "allowed-hosts", "*", "comma separated Host values accepted, *.example.com for subdomains")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 0, "reverse proxies in front of the server (0..10)")
	fs.Int64Var(&c.MaxRequestBytes, "max-request-bytes", 1_000_000, "largest declared request body accepted")

	fs.IntVar(&c.RateIndex, "rate-index", 20, "GET / requests per client per window")
	fs.IntVar(&c.RateDownload, "rate-download", 10, "POST /download requests per client per window")
	fs.IntVar(&c.RateStore, "rate-store", 10, "POST /store/{name} requests per client per window")
	fs.DurationVar(&c.RateWindow, "rate-window", time.Minute, "rate limit window")

	fs.DurationVar(&c.ShutdownDrain, "shutdown-drain", 5*time.Second, "time between failing readiness and stopping the listener")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value overrides env %s", f.Name, key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

// EnvKey maps a flag name to its environment variable.
func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// ApplyPlatformPort honours the PORT variable set by hosting platforms when
// neither -http-port nor its prefixed env var chose a port.
func ApplyPlatformPort(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := false
	fs.Visit(func(f *flag.Flag) { explicit = explicit || f.Name == "http-port" })
	if explicit {
		return
	}
	if _, ok := os.LookupEnv(EnvKey(prefix, "http-port")); ok {
		return
	}
	v, ok := os.LookupEnv("PORT")
	if !ok || v == "" {
		return
	}
	f := fs.Lookup("http-port")
	prev := f.Value.String()
	if err := fs.Set("http-port", v); err != nil {
		// a failed int parse has already stored 0
		_ = fs.Set("http-port", prev)
		if logf != nil {
			logf("ignoring invalid PORT=%q: %v", v, err)
		}
	}
}

// LoadDotEnv loads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		return false, fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// Load resolves configuration from args, the environment and an optional
// .env file, then validates it.
func Load(name string, args []string, dotenv string, logf func(string, ...any)) (App, error) {
	var c App
	if _, err := LoadDotEnv(dotenv); err != nil {
		return c, err
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	FillFromEnv(fs, EnvPrefix, logf)
	ApplyPlatformPort(fs, EnvPrefix, logf)
	return c, Validate(c)
}

// SplitList splits a comma separated setting, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if !validPort(c.HTTPPort) {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if !validPort(c.AdminPort) {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Download asset: S3 needs both halves, local needs a plain filename
	if (c.AssetS3Bucket == "") != (c.AssetS3Key == "") {
		errs = append(errs, fmt.Errorf("ASSET_S3_BUCKET and ASSET_S3_KEY must be set together"))
	}
	if c.AssetS3Bucket != "" && (c.PresignTTL < time.Minute || c.PresignTTL > 7*24*time.Hour) {
		errs = append(errs, fmt.Errorf("PRESIGN_TTL must be 1m..168h (got %s)", c.PresignTTL))
	}
	if c.AssetDir == "" {
		errs = append(errs, fmt.Errorf("ASSET_DIR is required"))
	}
	if c.AssetFile == "" || c.AssetFile != filepath.Base(c.AssetFile) || strings.HasPrefix(c.AssetFile, ".") {
		errs = append(errs, fmt.Errorf("ASSET_FILE must be a plain filename (got %q)", c.AssetFile))
	}
	if c.DownloadName == "" || strings.ContainsAny(c.DownloadName, "\"/\\\r\n") {
		errs = append(errs, fmt.Errorf("DOWNLOAD_NAME must be a plain filename (got %q)", c.DownloadName))
	}

	// Sessions
	if c.SessionCookie == "" || strings.ContainsAny(c.SessionCookie, " ;,=\t\r\n") {
		errs = append(errs, fmt.Errorf("invalid SESSION_COOKIE %q", c.SessionCookie))
	}
	if c.SessionTTL < time.Minute {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be at least 1m (got %s)", c.SessionTTL))
	}
	if c.SessionKey != "" {
		if _, err := secrets.DecodeKey(c.SessionKey); err != nil {
			// never echo the key itself
			errs = append(errs, fmt.Errorf("invalid SESSION_KEY: %w", err))
		}
		if c.SessionKeySSMParam != "" {
			errs = append(errs, fmt.Errorf("SESSION_KEY and SESSION_KEY_SSM_PARAM are mutually exclusive"))
		}
	}
	if c.RedisAddr != "" {
		if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
		}
	}
	if c.RedisDB < 0 || c.RedisDB > 15 {
		errs = append(errs, fmt.Errorf("REDIS_DB must be 0..15 (got %d)", c.RedisDB))
	}

	// Edge policy
	if c.TrustedProxyHops < 0 || c.TrustedProxyHops > 10 {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXY_HOPS must be 0..10 (got %d)", c.TrustedProxyHops))
	}
	if c.MaxRequestBytes < 1 {
		errs = append(errs, fmt.Errorf("MAX_REQUEST_BYTES must be positive (got %d)", c.MaxRequestBytes))
	}

	// Rate budgets
	budgets := []struct {
		name string
		n    int
	}{
		{"RATE_INDEX", c.RateIndex},
		{"RATE_DOWNLOAD", c.RateDownload},
		{"RATE_STORE", c.RateStore},
	}
	for _, b := range budgets {
		if b.n < 1 {
			errs = append(errs, fmt.Errorf("%s must be positive (got %d)", b.name, b.n))
		}
	}
	if c.RateWindow < time.Second {
		errs = append(errs, fmt.Errorf("RATE_WINDOW must be at least 1s (got %s)", c.RateWindow))
	}

	if c.ShutdownDrain < 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_DRAIN must not be negative (got %s)", c.ShutdownDrain))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
