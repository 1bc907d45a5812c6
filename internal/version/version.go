// Package version provides build-time version information.
// These variables are set via ldflags at build time.
package version

import "fmt"

var (
	// Version is the semantic version (e.g., "1.0.0")
	Version = "dev"

	// Commit is the git commit SHA
	Commit = "none"

	// Date is the build date in RFC3339 format
	Date = "unknown"
)

// Full returns the full version string for display.
func Full() string {
	if Version == "dev" {
		return "octobridge version dev (built from source)"
	}
	return fmt.Sprintf("octobridge version %s (%s, %s)", Version, shortCommit(), Date)
}

// UserAgent returns the user agent string for API requests.
func UserAgent() string {
	return "octobridge/" + Version + " (+https://github.com/octobridge/octobridge)"
}

func shortCommit() string {
	if len(Commit) > 7 {
		return Commit[:7]
	}
	return Commit
}
