// Package version holds the engram version string.
package version

// Version is the current engram version.
// Set at build time via -ldflags "-X github.com/engramhq/engram/pkg/version.Version=x.y.z".
var Version = "0.3.0"
