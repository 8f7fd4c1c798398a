// Package xerrors wraps errors with call-site information that the
// logger renders as stacks and error links.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// stacked carries the full stack captured where the error was created
type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }

// wrapped carries a message prefix and the single frame that added it
type wrapped struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrapped) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }
func (w *wrapped) PC() uintptr   { return w.pc }

// capture skips runtime.Callers, capture itself and skip more frames
func capture(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func caller(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func New(msg string) error {
	return &stacked{err: errors.New(msg), pcs: capture(1)}
}

func Newf(format string, args ...any) error {
	return &stacked{err: fmt.Errorf(format, args...), pcs: capture(1)}
}

// WithStack attaches the current stack to err, nil stays nil
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: capture(1)}
}

// EnsureTrace attaches a stack only if nothing in the chain has one yet
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return &stacked{err: err, pcs: capture(1)}
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: msg, pc: caller(1)}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: fmt.Sprintf(format, args...), pc: caller(1)}
}
