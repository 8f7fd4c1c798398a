package httpmw

import "net/http"

// DefaultMaxRequestBytes is the largest declared request body accepted.
const DefaultMaxRequestBytes int64 = 1_000_000

// SizeGuard rejects requests whose declared Content-Length exceeds limit
// with 413 before any handler runs.
//
// Only the declared length is checked. A body of unknown length (chunked
// transfer encoding, ContentLength == -1) passes through unbounded; the
// handlers here never read request bodies, so the gap is accepted rather
// than paying for a MaxBytesReader on every request.
func SizeGuard(limit int64, onReject func()) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = DefaultMaxRequestBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				if onReject != nil {
					onReject()
				}
				w.Header().Set("Connection", "close")
				http.Error(w, "Request too large", http.StatusRequestEntityTooLarge)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
