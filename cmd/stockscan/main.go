// Command stockscan runs job items through the adaptive batch engine, either
// once from a file or continuously from Kafka.
package main

import (
	"os"

	"github.com/turtacn/stockscan/internal/interfaces/cli"
	"github.com/turtacn/stockscan/internal/processor/remote"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate
	remote.Version = version
}

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
