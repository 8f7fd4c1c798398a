package log

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"
)

const defaultMaxErrorLinks = 8

type slogLogger struct {
	h     slog.Handler
	attrs []slog.Attr
	errs  errorEnricher
}

func newSlog(opts Options) (Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	if opts.StacktraceLevel == 0 {
		opts.StacktraceLevel = slog.LevelError
	}
	if opts.MaxErrorLinks <= 0 {
		opts.MaxErrorLinks = defaultMaxErrorLinks
	}

	hopts := &slog.HandlerOptions{Level: opts.Level, AddSource: true}
	var base slog.Handler = slog.NewTextHandler(w, hopts)
	if opts.JsonFormat {
		base = slog.NewJSONHandler(w, hopts)
	}

	attrs := []slog.Attr{slog.String("app", opts.App)}
	if opts.Version != "" {
		attrs = append(attrs, slog.String("version", opts.Version))
	}
	return &slogLogger{
		h:     &enrichHandler{next: base, stackLevel: opts.StacktraceLevel},
		attrs: attrs,
		errs:  errorEnricher{links: opts.IncludeErrorLinks, maxLinks: opts.MaxErrorLinks},
	}, nil
}

// With copies the attribute slice, so parent and child never share backing
// storage across goroutines.
func (s *slogLogger) With(kv ...any) Logger {
	child := *s
	child.attrs = append(append(make([]slog.Attr, 0, len(s.attrs)+len(kv)/2), s.attrs...), pairs(kv)...)
	return &child
}

func (s *slogLogger) Debug(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelDebug, msg, kv)
}

func (s *slogLogger) Info(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelInfo, msg, kv)
}

func (s *slogLogger) Warn(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelWarn, msg, kv)
}

func (s *slogLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	s.emit(ctx, slog.LevelError, msg, append(kv, s.errs.attrs(err)...))
}

func (s *slogLogger) Sync() error { return nil }

// emit must be called directly from a Logger method so the recorded source
// is the caller of that method.
func (s *slogLogger) emit(ctx context.Context, lvl slog.Level, msg string, kv []any) {
	if !s.h.Enabled(ctx, lvl) {
		return
	}
	var pc [1]uintptr
	// runtime.Callers, emit, the Logger method
	runtime.Callers(3, pc[:])

	r := slog.NewRecord(time.Now(), lvl, msg, pc[0])
	r.AddAttrs(s.attrs...)
	r.AddAttrs(pairs(kv)...)
	_ = s.h.Handle(ctx, r)
}

// pairs turns alternating key/value arguments into attrs, dropping entries
// whose key is not a string and a trailing key without a value.
func pairs(kv []any) []slog.Attr {
	out := make([]slog.Attr, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			out = append(out, slog.Any(k, kv[i+1]))
		}
	}
	return out
}
