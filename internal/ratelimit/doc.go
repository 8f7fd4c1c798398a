// Package ratelimit provides per (client IP, route) fixed-window request
// budgets with background eviction of idle entries.
//
// This is a single-instance, in-memory limiter intended for basic abuse
// prevention on a single server. Counters are process-local and lost on
// restart. It does not protect against distributed attacks or
// bandwidth-bill attacks; use upstream WAF or CDN rate limiting for those.
package ratelimit
