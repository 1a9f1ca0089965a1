// Package version holds build information set with -ldflags.
package version

import "fmt"

var (
	// Version is the release version of lanedetect
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build information for logs and -version output.
func String() string {
	return fmt.Sprintf("lanedetect %s (%s, built %s)", Version, GitSHA, BuildTime)
}
