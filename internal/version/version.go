// Package version holds build information stamped in at link time:
//
//	go build -ldflags "-X squint/internal/version.Version=0.2.0 -X squint/internal/version.Commit=$(git rev-parse HEAD)"
package version

import "fmt"

var (
	Version   = "0.1.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info returns the version with a short commit suffix when one is known
func Info() string {
	if len(Commit) >= 7 && Commit != "unknown" {
		return fmt.Sprintf("%s (%s)", Version, Commit[:7])
	}
	return Version
}

// Full returns the multi-line version banner
func Full() string {
	return fmt.Sprintf("squint version %s\ncommit: %s\nbuilt: %s", Version, Commit, BuildDate)
}
