// Command portprobe is a concurrent TCP connect port scanner with a REST API,
// cron scheduling and PostgreSQL report storage.
package main

import (
	"github.com/anstrom/portprobe/cmd/cli"
	"github.com/anstrom/portprobe/internal/api/handlers"
)

// Build information - set with -ldflags "-X main.version=...".
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	handlers.SetBuildInfo(version, commit, buildTime)
	cli.Execute()
}
