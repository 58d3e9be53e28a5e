// Package version carries build-time identifiers injected via -ldflags.
package version

// Version and Commit are overridden at build time with
// -ldflags "-X github.com/singura/singura/internal/version.Version=... -X .../Commit=...".
var (
	Version = "dev"
	Commit  = "unknown"
)
