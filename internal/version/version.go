// Package version exposes build metadata injected with -ldflags, falling
// back to the VCS stamps the Go toolchain embeds.
package version

import "runtime/debug"

const AppName = "penthu-web"

// set via -ldflags "-X github.com/penthu-app/penthu-web/internal/version.Version=..."
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate string
)

type Info struct {
	AppName    string `json:"app"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date,omitempty"`
	BuildDate  string `json:"build_date,omitempty"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

func Get() Info {
	out := Info{
		AppName:   AppName,
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	out.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" && s.Value != "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			out.CommitDate = s.Value
			if out.BuildDate == "" {
				out.BuildDate = s.Value
			}
		case "vcs.modified":
			out.VCSDirty = parseDirty(s.Value)
		}
	}
	return out
}

// parseDirty keeps the tri-state: nil when the toolchain did not record it
func parseDirty(v string) *bool {
	switch v {
	case "true":
		t := true
		return &t
	case "false":
		f := false
		return &f
	}
	return nil
}
