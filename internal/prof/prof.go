// Package prof runs the continuous profiler.
package prof

import (
	"context"
	"runtime"

	"github.com/grafana/pyroscope-go"

	"github.com/penthu-app/penthu-web/internal/log"
	"github.com/penthu-app/penthu-web/internal/version"
	"github.com/penthu-app/penthu-web/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string // default penthu-web
	ServerAddress string
	AuthToken     string
	TenantID      string
	Tags          map[string]string
	Build         version.Info

	ProfileMutexFraction int
	BlockProfileRate     int

	// OnActive reports whether the profiler is running, used for a gauge.
	OnActive func(active bool)
}

func (o *Options) tags() map[string]string {
	out := make(map[string]string, len(o.Tags)+2)
	if o.Build.Version != "" {
		out["version"] = o.Build.Version
	}
	if o.Build.Commit != "" {
		out["commit"] = o.Build.Commit
	}
	for k, v := range o.Tags {
		out[k] = v
	}
	return out
}

// Start starts pyroscope when enabled. The returned stop is always non-nil
// and safe to call, even alongside an error.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	active := opts.OnActive
	if active == nil {
		active = func(bool) {}
	}

	if !opts.Enabled {
		L.Info(ctx, "pyroscope disabled")
		active(false)
		return func() {}, nil
	}

	if opts.ServerAddress == "" {
		err := xerrors.Newf("invalid server address (%q)", opts.ServerAddress)
		L.Error(ctx, err, "pyroscope options")
		active(false)
		return func() {}, err
	}
	if opts.AppName == "" {
		opts.AppName = version.AppName
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}
	cfg := pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		AuthToken:       opts.AuthToken,
		TenantID:        opts.TenantID,
		Tags:            opts.tags(),
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
			pyroscope.ProfileMutexCount,
			pyroscope.ProfileMutexDuration,
			pyroscope.ProfileBlockCount,
			pyroscope.ProfileBlockDuration,
		},
	}

	profiler, err := pyroscope.Start(cfg)
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed",
			"server_address", opts.ServerAddress,
			"app_name", opts.AppName,
		)
		active(false)
		return func() {}, err
	}

	L.Info(ctx, "pyroscope started",
		"server_address", opts.ServerAddress,
		"app_name", opts.AppName,
	)
	active(true)

	return func() {
		_ = profiler.Stop()
		active(false)
		L.Info(context.Background(), "pyroscope stopped",
			"server_address", opts.ServerAddress,
			"app_name", opts.AppName,
		)
	}, nil
}
