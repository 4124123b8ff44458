// Package version exposes the build identity reported in the startup
// log line and stamped at link time.
package version

// Overridden by the release build via -ldflags "-X ...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)
