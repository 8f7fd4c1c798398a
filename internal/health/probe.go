package health

import (
	"context"
	"time"

	"github.com/penthu-app/penthu-web/internal/xerrors"
)

// Probe is evaluated at request time
// nil = OK non-nil = FAIL with reason.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed returns a probe that always returns ok or fails with the given reason
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes only if every probe passes and returns the first failure.
// Nil probes are skipped.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Pinger is a dependency that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping probes p with a bounded wait. Failures are reported as "name: err".
func Ping(name string, p Pinger, timeout time.Duration) CheckFunc {
	if timeout <= 0 {
		timeout = time.Second
	}
	return func(ctx context.Context) error {
		if p == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return xerrors.Wrapf(err, "%s", name)
		}
		return nil
	}
}
