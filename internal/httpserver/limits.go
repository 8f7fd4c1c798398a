package httpserver

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/penthu-app/penthu-web/internal/log"
	"github.com/penthu-app/penthu-web/internal/ratelimit"
)

// RouteLimits adapts a limiter and a budget table to the per-route hook the
// landing routes take. Routes missing from budgets are unthrottled.
func RouteLimits(l *ratelimit.Limiter, budgets map[string]ratelimit.Budget) func(route string) func(http.Handler) http.Handler {
	return func(route string) func(http.Handler) http.Handler {
		b, ok := budgets[route]
		if !ok || l == nil {
			return nil
		}
		return l.Middleware(route, b)
	}
}

// DenyLogger logs the first denial of a window for a client, at most once
// per interval across all clients so a flood cannot flood the logs too.
func DenyLogger(logger log.Logger, interval time.Duration) func(ip, route string) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s := &rate.Sometimes{First: 1, Interval: interval}
	return func(ip, route string) {
		s.Do(func() {
			logger.Warn(context.Background(), "rate limit exceeded", "client_ip", ip, "route", route)
		})
	}
}
