// Package httpmw provides HTTP middleware for the public-facing server.
//
// Every stage is a func(http.Handler) http.Handler composed with Chain in
// httpserver.NewHandler, outermost first: security headers, recover,
// request ID, client IP, trusted host, size guard, CORS, OTEL, metrics,
// structured logging, then the chi router where per-route rate limits and
// sessions apply. Any stage may short-circuit with its own response.
//
// User-supplied data (query strings, user-agent, cookies, Host) is kept out
// of logs to prevent PII leaks and log injection.
package httpmw
