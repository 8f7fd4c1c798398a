package httpmw

import (
	"net/http"
	"runtime/debug"

	"github.com/felixge/httpsnoop"

	"github.com/penthu-app/penthu-web/internal/log"
	"github.com/penthu-app/penthu-web/internal/xerrors"
)

// Recover answers a handler panic with a 500 and logs it with the stack.
// onPanic, if set, runs once per recovered panic. http.ErrAbortHandler is
// re-raised so net/http can drop the connection quietly.
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			committed := false
			tw := httpsnoop.Wrap(w, httpsnoop.Hooks{
				WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
					return func(code int) {
						committed = committed || code >= 200
						next(code)
					}
				},
				Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
					return func(b []byte) (int, error) {
						committed = true
						return next(b)
					}
				},
				Flush: func(next httpsnoop.FlushFunc) httpsnoop.FlushFunc {
					return func() {
						committed = true
						next()
					}
				},
			})

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err, ok := rec.(error)
				if ok {
					err = xerrors.Wrap(err, "handler panic")
				} else {
					err = xerrors.Newf("handler panic: %v", rec)
				}
				logger.Error(r.Context(), err, "panic recovered",
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
					"panic.stack", string(debug.Stack()),
				)
				if onPanic != nil {
					onPanic()
				}

				// status already on the wire
				if committed {
					return
				}
				w.Header().Set("Cache-Control", "no-store")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(tw, r)
		})
	}
}
