// Package version reports build information for amanrag.
package version

import (
	"fmt"
	"runtime"
)

// Version is set with -ldflags "-X github.com/Aman-CERP/amanrag/pkg/version.Version=...".
var Version = "dev"

// Build information set via ldflags.
var (
	Commit = "unknown"
	Date   = "unknown"

	// GoVersion is the toolchain the binary was built with.
	GoVersion = runtime.Version()
)

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// String returns a one-line version string with build info.
func String() string {
	return fmt.Sprintf("amanrag %s (commit: %s, built: %s, go: %s)",
		Version, Commit, Date, GoVersion)
}

// Short returns just the version.
func Short() string {
	return Version
}

// GetInfo returns structured version information.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
