package httpmw

import (
	"net"
	"net/http"
	"strings"
)

// TrustedHosts rejects requests whose Host header does not match one of
// allowed with 400. Entries are hostnames without port; "*" allows any
// host and "*.example.com" allows subdomains of example.com (not the apex).
// An empty list allows any host.
func TrustedHosts(allowed []string) func(http.Handler) http.Handler {
	exact := make(map[string]struct{}, len(allowed))
	var suffixes []string
	allowAll := len(allowed) == 0
	for _, h := range allowed {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case h == "":
		case h == "*":
			allowAll = true
		case strings.HasPrefix(h, "*."):
			suffixes = append(suffixes, h[1:])
		default:
			exact[h] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		if allowAll {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := hostOnly(r.Host)
			if _, ok := exact[host]; ok {
				next.ServeHTTP(w, r)
				return
			}
			for _, s := range suffixes {
				if strings.HasSuffix(host, s) && len(host) > len(s) {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "Invalid host header", http.StatusBadRequest)
		})
	}
}

func hostOnly(hostport string) string {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}
