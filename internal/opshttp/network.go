package opshttp

import (
	"net"
	"net/http"
	"net/netip"

	"github.com/penthu-app/penthu-web/internal/log"
)

// requireNonPublicNetwork refuses callers outside loopback, private and
// link-local ranges. The ops port is for scrapers and the orchestrator only.
// RemoteAddr is used as-is; nothing on this listener sits behind a proxy.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !nonPublic(r.RemoteAddr) {
			L.Warn(r.Context(), "ops request from public address refused", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func nonPublic(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	// ::ffff:a.b.c.d is judged as a.b.c.d
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}
