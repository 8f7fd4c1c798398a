package log

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// enrichHandler adds trace_id/span_id from the context and, at stackLevel
// and above, a rendered stack. The stack comes from the logged error when it
// carries one and from the logging call otherwise.
type enrichHandler struct {
	next       slog.Handler
	stackLevel slog.Level
}

func (h *enrichHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h *enrichHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if r.Level >= h.stackLevel {
		pcs := errorStack(r)
		if len(pcs) == 0 {
			buf := make([]uintptr, 64)
			pcs = buf[:runtime.Callers(2, buf)]
		}
		r.AddAttrs(slog.String("stack", formatStack(pcs)))
	}
	return h.next.Handle(ctx, r)
}

func (h *enrichHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &enrichHandler{next: h.next.WithAttrs(attrs), stackLevel: h.stackLevel}
}

func (h *enrichHandler) WithGroup(name string) slog.Handler {
	return &enrichHandler{next: h.next.WithGroup(name), stackLevel: h.stackLevel}
}

// errorStack returns the stack captured by the "err" attribute, if any.
func errorStack(r slog.Record) []uintptr {
	var pcs []uintptr
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "err" {
			return true
		}
		if st, ok := a.Value.Any().(stackTracer); ok {
			pcs = st.StackPCs()
		}
		return false
	})
	return pcs
}

// ownFrame matches frames of the logging and error helpers themselves.
func ownFrame(fn string) bool {
	return strings.HasPrefix(fn, "log/slog.") ||
		strings.Contains(fn, "/internal/log.") ||
		strings.Contains(fn, "/internal/xerrors.")
}

// formatStack renders "func\n\tfile:line" pairs from the first frame
// outside the logger up to the runtime.
func formatStack(pcs []uintptr) string {
	var b strings.Builder
	started := false
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, "runtime.") {
			break
		}
		started = started || !ownFrame(fr.Function)
		if started && fr.Function != "" {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimSpace(b.String())
}
