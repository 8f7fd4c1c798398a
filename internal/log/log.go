// Package log is the structured logger used across the server, a thin
// layer over log/slog that knows about request contexts, trace ids and
// xerrors call sites.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is the structured logger passed through request contexts.
// Error takes the error as a first-class argument so the backend can
// attach its chain, type and stack.
type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App     string
	Version string

	Level slog.Level
	// StacktraceLevel and above get a "stack" attribute, default error.
	StacktraceLevel slog.Level
	// JsonFormat selects JSON lines, otherwise logfmt.
	JsonFormat bool

	// IncludeErrorLinks adds one {msg, func, file, line} entry per wrap
	// site, at most MaxErrorLinks (default 8).
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// Writer defaults to stdout.
	Writer io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

// ParseLevel accepts debug, info, warn and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	name := strings.TrimSpace(s)
	if strings.ContainsAny(name, "+- ") {
		return 0, fmt.Errorf("unknown log level %q (valid levels are debug|info|warn|error)", s)
	}
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("unknown log level %q (valid levels are debug|info|warn|error)", s)
	}
	return lvl, nil
}
