package version

import "fmt"

// Version, GitCommit and BuildDate are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/pandora-cas/goclient/pkg/version.Version=v1.0.0 \
//	  -X github.com/pandora-cas/goclient/pkg/version.GitCommit=abc1234"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns a single-line human-readable version string.
func Info() string {
	return fmt.Sprintf("pandoractl %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
