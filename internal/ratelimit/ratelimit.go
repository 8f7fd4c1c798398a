// Package ratelimit is middleware for per (ip, route) rate limiting
//
// # Simple in-memory implementation, not shared between instances or distributed
//
// Each (client ip, route) pair gets a counter over a fixed window. The first
// request seen for a key opens the window; the window closes Window later and
// the next request after that opens a fresh one with a zero count. Within a
// window the count only grows, so the (N+1)th request of a budget of N is
// always rejected, which a token bucket refilling mid-window cannot promise.
//
// What this does protect against:
//   - single ip hammering the download and store endpoints
//   - single-log entry per offender per window to prevent log spam, metrics for counting total denied requests
//
// What this does NOT protect against:
//   - distributed attacks across many ips
//   - bandwidth-bill attacks, inbound data is already accepted by the time this runs
package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/penthu-app/penthu-web/internal/httpmw"
)

// Budget is the number of requests a client may make to one route per window.
type Budget struct {
	Requests int
	Window   time.Duration
}

// PerMinute is a Budget of n requests per minute.
func PerMinute(n int) Budget {
	return Budget{Requests: n, Window: time.Minute}
}

func (b Budget) valid() bool {
	return b.Requests > 0 && b.Window > 0
}

type key struct {
	ip    string
	route string
}

// window tracks a single (ip, route) counter
type window struct {
	start    time.Time
	count    int
	lastSeen time.Time
	// logged tracks whether we have already emitted the first-denial hook for
	// this window, resets with the window
	logged bool
}

// Limiter holds per (ip, route) counters with background eviction
type Limiter struct {
	mu      sync.Mutex
	windows map[key]*window

	now func() time.Time

	// ttl controls how long an idle key stays in the map before cleanup evicts it.
	// always at least the longest window seen so a live window is never dropped
	ttl time.Duration

	// maxEntries caps the number of tracked keys to bound memory under a
	// spray of distinct ips. 0 disables the cap.
	maxEntries  int
	capacityHit bool
	OnCapacity  func()
	longestSeen time.Duration

	// OnFirstDenied is called once per key per window when it first gets rate limited
	OnFirstDenied func(ip, route string)

	// OnDenied is called on every denied request, used for incrementing prometheus counter
	OnDenied func(ip, route string)
}

type Option func(*Limiter)

// WithClock replaces time.Now, used by tests to step through windows
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithTTL controls how long an idle key stays in the map before cleanup
func WithTTL(d time.Duration) Option {
	return func(l *Limiter) {
		l.ttl = d
	}
}

// WithMaxEntries caps the number of tracked (ip, route) keys. New keys beyond
// the cap are denied until cleanup frees space; known keys keep their budget.
func WithMaxEntries(n int) Option {
	return func(l *Limiter) {
		l.maxEntries = n
	}
}

// WithOnCapacity sets a callback fired once when the key cap is first hit,
// re-armed after cleanup brings the map back under the cap
func WithOnCapacity(fn func()) Option {
	return func(l *Limiter) {
		l.OnCapacity = fn
	}
}

// WithOnFirstDenied sets a callback for the first denial per key per window, used for logging.
// Separate from OnDenied: we log once, but increment prometheus counters on each denial
func WithOnFirstDenied(fn func(ip, route string)) Option {
	return func(l *Limiter) {
		l.OnFirstDenied = fn
	}
}

// WithOnDenied sets a callback for every denied request. used for incrementing prometheus counters
func WithOnDenied(fn func(ip, route string)) Option {
	return func(l *Limiter) {
		l.OnDenied = fn
	}
}

// New creates a Limiter and starts the background cleanup goroutine, which
// stops when ctx is cancelled
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		windows:    make(map[key]*window),
		now:        time.Now,
		ttl:        5 * time.Minute,
		maxEntries: 100000,
	}
	for _, o := range opts {
		o(l)
	}
	if l.ttl <= 0 {
		l.ttl = 5 * time.Minute
	}
	go l.cleanup(ctx)
	return l
}

// allow counts one request for (ip, route) against b. Returns whether the
// request may proceed and, when denied, how long until the window resets.
func (l *Limiter) allow(ip, route string, b Budget) (bool, time.Duration) {
	if !b.valid() {
		return true, 0
	}

	k := key{ip: ip, route: route}
	l.mu.Lock()
	now := l.now()
	if b.Window > l.longestSeen {
		l.longestSeen = b.Window
	}

	w, exists := l.windows[k]
	if !exists {
		if l.maxEntries > 0 && len(l.windows) >= l.maxEntries {
			fire := !l.capacityHit
			l.capacityHit = true
			l.mu.Unlock()
			if fire && l.OnCapacity != nil {
				l.OnCapacity()
			}
			if l.OnDenied != nil {
				l.OnDenied(ip, route)
			}
			return false, b.Window
		}
		w = &window{start: now}
		l.windows[k] = w
	}

	// window expired, open a fresh one anchored at this request
	if !now.Before(w.start.Add(b.Window)) {
		w.start = now
		w.count = 0
		w.logged = false
	}
	w.lastSeen = now

	if w.count < b.Requests {
		w.count++
		l.mu.Unlock()
		return true, 0
	}

	retry := w.start.Add(b.Window).Sub(now)
	first := !w.logged
	w.logged = true
	// release lock before calling hooks, they may do slow work
	l.mu.Unlock()

	if first && l.OnFirstDenied != nil {
		l.OnFirstDenied(ip, route)
	}
	if l.OnDenied != nil {
		l.OnDenied(ip, route)
	}
	return false, retry
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// sweep evicts keys idle for longer than the ttl (or the longest window, if that is longer)
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	idle := max(l.ttl, l.longestSeen)
	for k, w := range l.windows {
		if now.Sub(w.lastSeen) > idle {
			delete(l.windows, k)
		}
	}
	if l.maxEntries <= 0 || len(l.windows) < l.maxEntries {
		l.capacityHit = false
	}
}

// cleanup periodically evicts idle keys. Runs every ttl/2 so entries are
// not held much longer than intended.
func (l *Limiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// Middleware returns middleware that rejects requests over the route budget
// with 429. route names the counter, so every request through this
// middleware shares one budget per client ip regardless of path parameters.
func (l *Limiter) Middleware(route string, b Budget) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := httpmw.ClientIPFromContext(r.Context())

			ok, retry := l.allow(ip, route, b)
			if !ok {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", retryAfterSeconds(retry))
				w.WriteHeader(http.StatusTooManyRequests)
				// no detail about limits or remaining budget
				_, _ = w.Write([]byte(`{"error":"too many requests"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
