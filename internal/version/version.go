// Package version carries the build identity stamped into the binary.
//
// Release builds overwrite Version, Commit and Date with
// -ldflags "-X github.com/jmylchreest/ttshub/internal/version.Version=..."
// and so on; a plain `go build` keeps the dev defaults.
package version

import (
	"fmt"
	"runtime"
)

const appName = "ttshub"

// Stamped at release time via ldflags.
var (
	// Version is the semantic version, "dev" for local builds.
	Version = "dev"

	// Commit is the full git SHA the binary was built from.
	Commit = "unknown"

	// Date is the UTC build timestamp in RFC3339.
	Date = "unknown"
)

// Info is the JSON shape of `ttshub version --json`.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo snapshots the stamped identity plus runtime facts.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders the long form `ttshub version` prints.
func String() string {
	info := GetInfo()
	if c := shortCommit(); c != "" {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			appName, info.Version, c, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)",
		appName, info.Version, info.GoVersion, info.Platform)
}

// Short renders the one-liner cobra prints for --version.
func Short() string {
	if c := shortCommit(); c != "" {
		return fmt.Sprintf("%s %s (%s)", appName, Version, c)
	}
	return fmt.Sprintf("%s %s", appName, Version)
}

// UserAgent identifies outbound requests to sidecar services.
func UserAgent() string {
	return appName + "/" + Version
}

// shortCommit returns the abbreviated SHA, or "" for unstamped builds.
func shortCommit() string {
	if Commit == "unknown" || len(Commit) < 8 {
		return ""
	}
	return Commit[:8]
}
