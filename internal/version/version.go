// Package version carries build information for the room orchestrator.
package version

import "fmt"

// Overridden at build time, e.g.
//
//	go build -ldflags "-X github.com/AaronLay10/SentientRoom/internal/version.Version=x.y.z -X github.com/AaronLay10/SentientRoom/internal/version.Commit=$(git rev-parse --short HEAD)"
var (
	Version = "0.1.0"
	Commit  = "unknown"
)

// String returns "<version> (<commit>)".
func String() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
