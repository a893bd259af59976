// Package version carries build metadata stamped with -ldflags -X and
// falls back to the module build info embedded by the Go toolchain.
package version

import (
	"runtime/debug"
	"strconv"
	"strings"
)

// AppName identifies the service in logs, traces, metrics and profiles.
const AppName = "cdninv"

var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

// Info is the build metadata reported by /metrics build_info, the startup
// log and the -V flag.
type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// Get merges the ldflags values with the toolchain's embedded build info.
// Stamped values win; VCS settings fill what was left unset.
func Get() Info {
	out := Info{
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		out.GoVersion = bi.GoVersion
		out.applyVCS(bi.Settings)
	}
	return out
}

func (i *Info) applyVCS(settings []debug.BuildSetting) {
	for _, s := range settings {
		if s.Value == "" {
			continue
		}
		switch s.Key {
		case "vcs.revision":
			if i.Commit == "" || i.Commit == "none" {
				i.Commit = s.Value
			}
		case "vcs.time":
			i.CommitDate = s.Value
			if i.BuildDate == "" {
				i.BuildDate = s.Value
			}
		case "vcs.modified":
			if b, err := strconv.ParseBool(s.Value); err == nil {
				i.VCSDirty = &b
			}
		}
	}
}

// Short renders "version (commit[:12])" for startup logs and user agents.
func (i Info) Short() string {
	c := i.Commit
	if len(c) > 12 {
		c = c[:12]
	}
	var b strings.Builder
	b.WriteString(i.Version)
	if c != "" && c != "none" {
		b.WriteString(" (" + c)
		if i.VCSDirty != nil && *i.VCSDirty {
			b.WriteString("-dirty")
		}
		b.WriteString(")")
	}
	return b.String()
}
