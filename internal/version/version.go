// Package version carries build information for the engine CLI, populated
// at build time via ldflags the same way the rest of the ecosystem does.
package version

import (
	"fmt"
	"runtime"
)

// Build information. Populated at build-time via ldflags; zero values mean
// a developer build (go run/go build without -ldflags).
var (
	Version   = "0.0.0-dev"
	GitCommit = ""
	BuildDate = ""
	GoVersion = runtime.Version()
)

// String returns the one-line version banner cmd/didengine prints for
// --version.
func String() string {
	platform := fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
	if GitCommit != "" {
		return fmt.Sprintf("%s (commit: %s, built: %s, go: %s, platform: %s)",
			Version, GitCommit, BuildDate, GoVersion, platform)
	}
	return fmt.Sprintf("%s (go: %s, platform: %s)", Version, GoVersion, platform)
}
