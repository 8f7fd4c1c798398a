package opshttp

import (
	"net/http"
	"time"

	"github.com/penthu-app/penthu-web/internal/health"
	"github.com/penthu-app/penthu-web/internal/version"
)

type Options struct {
	// Host defaults to all interfaces, Port to 9000.
	Host string
	Port int

	Metrics     http.Handler
	EnablePprof bool

	Health    health.Probe
	Readiness health.Probe

	// Build is served at /-/version; StartedAt defaults to handler creation.
	Build     version.Info
	StartedAt time.Time

	UseRecoverMW bool
	OnPanic      func()
}
