package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/penthu-app/penthu-web/internal/httpmw"
	"github.com/penthu-app/penthu-web/internal/log"
)

type Options struct {
	Logger log.Logger
	// Host is the listen address, empty for all interfaces.
	Host string
	Port int

	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler

	// Security is the response header policy, nil means the default.
	Security *httpmw.SecurityPolicy

	// MaxRequestBytes caps the declared Content-Length (default 1,000,000).
	MaxRequestBytes int64
	OnTooLarge      func()

	ClientIPOpts httpmw.ClientIPOptions
	AllowedHosts []string
	CORS         httpmw.CORSOptions

	// Static maps a mount prefix ("/css") to its handler.
	Static map[string]http.Handler

	// Sessions wraps the routes registered by Routes.
	Sessions func(http.Handler) http.Handler
	Routes   func(r chi.Router)
}
