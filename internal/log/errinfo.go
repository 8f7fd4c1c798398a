package log

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// implemented by xerrors: a single wrap site, or a full stack
type (
	callSite    interface{ PC() uintptr }
	stackTracer interface{ StackPCs() []uintptr }
)

type errorEnricher struct {
	links    bool
	maxLinks int
}

// attrs returns the key/value pairs describing err: the error itself, its
// surface and root types, the message chain and optionally wrap sites.
func (e errorEnricher) attrs(err error) []any {
	if err == nil {
		return nil
	}
	kv := []any{
		"err", err,
		"error_type", surfaceType(err),
		"cause_type", fmt.Sprintf("%T", rootCause(err)),
	}
	if chain := messages(err); len(chain) > 0 {
		kv = append(kv, "error_chain", chain)
	}
	if e.links {
		kv = append(kv, "error_links", wrapSites(err, e.maxLinks))
	}
	return kv
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// messages lists each distinct message from the outermost error inwards,
// followed by the members of a top-level errors.Join.
func messages(err error) []string {
	var out []string
	add := func(s string) {
		if len(out) == 0 || out[len(out)-1] != s {
			out = append(out, s)
		}
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		add(e.Error())
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			add(e.Error())
		}
	}
	return out
}

// wrapSites describes up to max links of the chain. The first link is always
// kept, later ones only when they know where they were created.
func wrapSites(err error, max int) []map[string]any {
	var out []map[string]any
	for depth, e := 0, err; e != nil && depth < max; depth, e = depth+1, errors.Unwrap(e) {
		link := map[string]any{"msg": e.Error()}
		fn, file, line, ok := siteOf(e)
		if ok {
			link["func"], link["file"], link["line"] = fn, file, line
		}
		if ok || depth == 0 {
			out = append(out, link)
		}
	}
	return out
}

func siteOf(e error) (fn, file string, line int, ok bool) {
	switch v := e.(type) {
	case callSite:
		if pc := v.PC(); pc != 0 {
			fr, _ := runtime.CallersFrames([]uintptr{pc}).Next()
			return fr.Function, fr.File, fr.Line, true
		}
	case stackTracer:
		frames := runtime.CallersFrames(v.StackPCs())
		for {
			fr, more := frames.Next()
			if fr.Function != "" && !strings.HasPrefix(fr.Function, "runtime.") && !ownFrame(fr.Function) {
				return fr.Function, fr.File, fr.Line, true
			}
			if !more {
				break
			}
		}
	}
	return "", "", 0, false
}

// surfaceType is the first type in the chain that is not a plain wrapper
// (xerrors or fmt's %w).
func surfaceType(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		t := reflect.TypeOf(e)
		base := t
		for base.Kind() == reflect.Pointer {
			base = base.Elem()
		}
		if strings.HasSuffix(base.PkgPath(), "/internal/xerrors") {
			continue
		}
		if base.PkgPath() == "fmt" && base.Name() == "wrapError" {
			continue
		}
		return t.String()
	}
	return fmt.Sprintf("%T", err)
}
