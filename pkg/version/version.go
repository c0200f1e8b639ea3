// Package version carries build information stamped in by the linker.
package version

import "fmt"

var (
	// GitVersion is the git version of the build. It is set by the linker.
	GitVersion = "unknown"
	// GitCommit is the git commit hash of the build. It is set by the linker.
	GitCommit = "unknown"
)

// ClientID identifies this build in the client header sent with every request.
func ClientID() string {
	return "objclient/" + GitVersion
}

// String is the version line the CLI prints.
func String() string {
	return fmt.Sprintf("gitVersion=%s, gitCommit=%s", GitVersion, GitCommit)
}
