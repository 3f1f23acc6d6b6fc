// Package version reports the netbridge build version.
//
// A release build stamps Version and Commit with ldflags:
//
//	go build -ldflags="-X github.com/muurk/netbridge/internal/version.Version=v1.2.3 \
//	                   -X github.com/muurk/netbridge/internal/version.Commit=abc123"
//
// Otherwise they come from the module and VCS data the Go toolchain embeds.
// `go install github.com/muurk/netbridge/cmd/netbridge@v1.2.3` therefore
// reports v1.2.3 without any flags.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Stamped by ldflags, then filled in by init.
var (
	Version = ""
	Commit  = ""
)

// commitLen is how much of a VCS revision is kept.
const commitLen = 12

// Info describes the running binary.
type Info struct {
	Version   string
	Commit    string
	Dirty     bool      // built from a modified work tree
	CommitAt  time.Time // zero when unknown
	GoVersion string
	Platform  string // GOOS/GOARCH
}

var current Info

func init() {
	info, _ := debug.ReadBuildInfo()
	current = resolve(Version, Commit, info)
	Version, Commit = current.Version, current.Commit
}

// Get returns the resolved build information.
func Get() Info {
	return current
}

// resolve merges stamped values with embedded build info. Stamped values win.
func resolve(version, commit string, info *debug.BuildInfo) Info {
	out := Info{
		Version:   version,
		Commit:    commit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	if info != nil {
		if out.Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			out.Version = info.Main.Version
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if out.Commit == "" {
					out.Commit = s.Value[:min(commitLen, len(s.Value))]
				}
			case "vcs.modified":
				out.Dirty = s.Value == "true"
			case "vcs.time":
				if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
					out.CommitAt = t.UTC()
				}
			}
		}
		if info.GoVersion != "" {
			out.GoVersion = info.GoVersion
		}
	}

	if out.Version == "" {
		out.Version = "dev"
		if !out.CommitAt.IsZero() {
			out.Version += "-" + out.CommitAt.Format("20060102")
		}
	}
	if out.Commit == "" {
		out.Commit = "unknown"
	}
	return out
}

// String renders i for `netbridge version`.
func (i Info) String() string {
	details := []string{"commit " + i.Commit}
	if i.Dirty {
		details = append(details, "modified")
	}
	if !i.CommitAt.IsZero() {
		details = append(details, i.CommitAt.Format(time.DateOnly))
	}
	details = append(details, i.GoVersion, i.Platform)
	return i.Version + " (" + strings.Join(details, ", ") + ")"
}

// Full returns the version with its commit and toolchain.
func Full() string {
	return current.String()
}

// UserAgent is sent on outgoing WebSocket handshakes.
func UserAgent() string {
	return "netbridge/" + current.Version + " (" + current.GoVersion + "; " + current.Platform + ")"
}
