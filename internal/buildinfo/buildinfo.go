// Package buildinfo holds version metadata injected at build time.
package buildinfo

import "fmt"

var (
	Version   = "dev"
	GitCommit = "none"
	BuildTime = "unknown"
)

func String() string {
	return fmt.Sprintf("drover %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
