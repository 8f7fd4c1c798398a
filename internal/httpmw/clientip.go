package httpmw

import (
	"context"
	"net/http"
	"net/netip"
	"strings"
)

type clientIPKey struct{}

// unknownClient is used when the peer address cannot be parsed. Every such
// request shares one rate limit bucket.
const unknownClient = "0.0.0.0"

// ClientIPOptions configures client IP extraction behavior.
type ClientIPOptions struct {
	// TrustedHops is how many of our own proxies sit in front of the
	// server. Zero ignores X-Forwarded-For, one takes its last entry, two
	// the entry before that.
	TrustedHops int
}

// ClientIP resolves the client IP with no trusted proxies and stores it in
// the context. This is the identity the rate limiter keys on.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions returns middleware that resolves the client IP using opts.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractRealClientAddr(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// peerAddr parses RemoteAddr with or without a port.
func peerAddr(remote string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().Unmap(), true
	}
	if a, err := netip.ParseAddr(remote); err == nil {
		return a.Unmap(), true
	}
	return netip.Addr{}, false
}

// fromOwnProxy reports whether the direct peer could be one of our proxies.
func fromOwnProxy(a netip.Addr) bool {
	return a.IsPrivate() || a.IsLoopback()
}

// dropForwarded removes the proxy headers so nothing downstream trusts them.
func dropForwarded(h http.Header) {
	h.Del("X-Forwarded-For")
	h.Del("X-Forwarded-Proto")
}

// extractRealClientAddr returns the client address for r. X-Forwarded-For
// is read only when trustedHops > 0 and the peer is private or loopback;
// otherwise the forwarded headers are stripped from r.
func extractRealClientAddr(r *http.Request, trustedHops int) string {
	peer, ok := peerAddr(r.RemoteAddr)
	if !ok {
		return unknownClient
	}
	if trustedHops <= 0 || !fromOwnProxy(peer) {
		dropForwarded(r.Header)
		return peer.String()
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peer.String()
	}

	// each trusted proxy appends what it saw, entries further left are
	// client supplied
	hops := strings.Split(xff, ",")
	pos := len(hops) - trustedHops
	if pos < 0 {
		dropForwarded(r.Header)
		return peer.String()
	}
	client, err := netip.ParseAddr(strings.TrimSpace(hops[pos]))
	if err != nil {
		return peer.String()
	}
	return client.Unmap().String()
}

// ClientIPFromContext returns the address resolved by ClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
