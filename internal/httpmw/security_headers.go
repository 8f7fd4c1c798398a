package httpmw

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
)

// Directive is one Content-Security-Policy directive. A directive with no
// sources renders as a bare name (e.g. upgrade-insecure-requests).
type Directive struct {
	Name    string
	Sources []string
}

// SecurityPolicy describes the response headers applied to every response.
// Order of CSP directives is preserved in the rendered header.
type SecurityPolicy struct {
	CSP                   []Directive
	HSTSMaxAge            time.Duration
	HSTSIncludeSubDomains bool
	FrameOptions          string
	XSSProtection         string
	ReferrerPolicy        string
	// DisabledFeatures renders as Permissions-Policy "<feature>=()"
	DisabledFeatures []string
}

// DefaultSecurityPolicy is the landing site policy. Inline script and style
// are allowed for the page's own handlers; fonts come from Google Fonts.
func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{
		CSP: []Directive{
			{Name: "default-src", Sources: []string{"'self'"}},
			{Name: "script-src", Sources: []string{"'self'", "'unsafe-inline'"}},
			{Name: "style-src", Sources: []string{"'self'", "'unsafe-inline'", "https://fonts.googleapis.com"}},
			{Name: "font-src", Sources: []string{"'self'", "https://fonts.gstatic.com"}},
			{Name: "img-src", Sources: []string{"'self'", "data:", "https:"}},
			{Name: "connect-src", Sources: []string{"'self'"}},
			{Name: "frame-ancestors", Sources: []string{"'none'"}},
			{Name: "base-uri", Sources: []string{"'self'"}},
			{Name: "form-action", Sources: []string{"'self'"}},
		},
		HSTSMaxAge:            365 * 24 * time.Hour,
		HSTSIncludeSubDomains: true,
		FrameOptions:          "DENY",
		XSSProtection:         "1; mode=block",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		DisabledFeatures: []string{
			"geolocation", "microphone", "camera", "payment",
			"usb", "magnetometer", "gyroscope", "accelerometer",
		},
	}
}

// fallbackSecurityHeaders is applied when a configured policy fails to build
var fallbackSecurityHeaders = []headerPair{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'; form-action 'self'"},
}

var ErrInvalidPolicy = errors.New("httpmw: invalid security policy")

type headerPair struct {
	name, value string
}

// render renders the policy into an ordered header list, validating every value.
func (p SecurityPolicy) render() ([]headerPair, error) {
	var errs []error

	if len(p.CSP) == 0 {
		errs = append(errs, fmt.Errorf("%w: no CSP directives", ErrInvalidPolicy))
	}
	csp := make([]string, 0, len(p.CSP))
	for _, d := range p.CSP {
		if !validToken(d.Name) {
			errs = append(errs, fmt.Errorf("%w: bad CSP directive name %q", ErrInvalidPolicy, d.Name))
			continue
		}
		part := d.Name
		for _, src := range d.Sources {
			if src == "" || strings.ContainsAny(src, ";, ") || hasCTL(src) {
				errs = append(errs, fmt.Errorf("%w: bad source %q in %s", ErrInvalidPolicy, src, d.Name))
				continue
			}
			part += " " + src
		}
		csp = append(csp, part)
	}

	out := []headerPair{
		{"X-Content-Type-Options", "nosniff"},
		{"Content-Security-Policy", strings.Join(csp, "; ")},
	}
	if p.FrameOptions != "" {
		out = append(out, headerPair{"X-Frame-Options", p.FrameOptions})
	}
	if p.XSSProtection != "" {
		out = append(out, headerPair{"X-XSS-Protection", p.XSSProtection})
	}
	if p.ReferrerPolicy != "" {
		out = append(out, headerPair{"Referrer-Policy", p.ReferrerPolicy})
	}
	if p.HSTSMaxAge > 0 {
		v := "max-age=" + strconv.FormatInt(int64(p.HSTSMaxAge/time.Second), 10)
		if p.HSTSIncludeSubDomains {
			v += "; includeSubDomains"
		}
		out = append(out, headerPair{"Strict-Transport-Security", v})
	}
	if len(p.DisabledFeatures) > 0 {
		feats := make([]string, 0, len(p.DisabledFeatures))
		for _, f := range p.DisabledFeatures {
			if !validToken(f) {
				errs = append(errs, fmt.Errorf("%w: bad permissions feature %q", ErrInvalidPolicy, f))
				continue
			}
			feats = append(feats, f+"=()")
		}
		out = append(out, headerPair{"Permissions-Policy", strings.Join(feats, ", ")})
	}

	for _, h := range out {
		if hasCTL(h.value) {
			errs = append(errs, fmt.Errorf("%w: control character in %s", ErrInvalidPolicy, h.name))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func validToken(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if (c < 'a' || c > 'z') && c != '-' {
			return false
		}
	}
	return true
}

func hasCTL(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == 0x7f {
			return true
		}
	}
	return false
}

// SecurityHeaders builds the header set once from p and returns middleware
// that applies it to every response. If p does not validate the middleware
// applies a minimal safe set instead, and the build error is returned for
// the caller to log. The returned middleware is never nil.
//
// Headers are set before the handler runs and set again when the response
// header is written, so handler-set values for these names never win.
func SecurityHeaders(p SecurityPolicy) (func(http.Handler) http.Handler, error) {
	headers, err := p.render()
	if err != nil {
		headers = fallbackSecurityHeaders
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			applyHeaders(w.Header(), headers)
			next.ServeHTTP(enforceHeaders(w, headers), r)
		})
	}, err
}

func applyHeaders(h http.Header, headers []headerPair) {
	for _, p := range headers {
		h.Set(p.name, p.value)
	}
}

// enforceHeaders re-applies the policy right before the final header is
// sent, whichever write path the handler takes.
func enforceHeaders(w http.ResponseWriter, headers []headerPair) http.ResponseWriter {
	sent := false
	assert := func() {
		if !sent {
			sent = true
			applyHeaders(w.Header(), headers)
		}
	}
	return httpsnoop.Wrap(w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				// 1xx is followed by the real header
				if code >= 200 {
					assert()
				} else {
					applyHeaders(w.Header(), headers)
				}
				next(code)
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(b []byte) (int, error) {
				assert()
				return next(b)
			}
		},
		ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
			return func(src io.Reader) (int64, error) {
				assert()
				return next(src)
			}
		},
		Flush: func(next httpsnoop.FlushFunc) httpsnoop.FlushFunc {
			return func() {
				assert()
				next()
			}
		},
	})
}
