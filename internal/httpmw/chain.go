package httpmw

import "net/http"

// Chain wraps h so the first middleware in mws is the outermost and runs
// first. Nil entries are skipped, which lets optional stages be listed
// inline.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}
