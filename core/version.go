package core

// Version is the application version, set at build time via ldflags:
//
//	go build -ldflags "-X spacethumbs/core.Version=$(git describe --tags --always)" .
//
// If not set at build time, defaults to "dev".
var Version = "dev"

// GitCommit is the git commit hash, set at build time via ldflags.
var GitCommit = "unknown"

// VersionString returns "<version> (<commit>)".
func VersionString() string {
	return Version + " (" + GitCommit + ")"
}
