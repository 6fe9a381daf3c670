// Package version holds build metadata injected via -ldflags.
package version

import "fmt"

// Set at build time:
//
//	go build -ldflags "-X httpcat/internal/version.Version=v1.2.3 -X httpcat/internal/version.Commit=abc123 -X httpcat/internal/version.Date=2026-01-01"
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a one-line description of the build.
func Info() string {
	return fmt.Sprintf("httpcat %s (commit %s, built %s)", Version, Commit, Date)
}
