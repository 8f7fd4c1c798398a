package httpmw

import (
	"net/http"

	"github.com/rs/cors"
)

// CORSOptions configures cross-origin reads of pages and assets.
type CORSOptions struct {
	// AllowedOrigins defaults to "*".
	AllowedOrigins []string
	// MaxAge is the preflight cache lifetime in seconds, default 3600.
	MaxAge int
}

// CORS allows cross-origin GET and HEAD only. State-changing routes get no
// CORS grant, so browsers will not expose their responses to other origins.
func CORS(opts CORSOptions) func(http.Handler) http.Handler {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = 3600
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodHead},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           maxAge,
	})
	return c.Handler
}
