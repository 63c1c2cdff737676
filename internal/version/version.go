// Package version carries build metadata stamped in by the linker.
package version

import "fmt"

// These variables are populated by the Go linker (LDFLAGS) at build time.
var (
	Version    = "dev"     // Default value if not built with LDFLAGS
	CommitHash = "unknown" // Default value
	BuildDate  = "unknown" // Default value
)

// String formats the build metadata for ratewatch -version.
func String() string {
	return fmt.Sprintf("ratewatch %s (commit %s, built %s)", Version, CommitHash, BuildDate)
}
