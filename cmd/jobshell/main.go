// jobshell - command shell for the job server
package main

import (
	"fmt"
	"os"

	"github.com/rescale/jobshell/internal/cli"
	"github.com/rescale/jobshell/internal/version"
)

// Version information, overridden by ldflags
var (
	Version   = "v1.2.0"
	BuildTime = "unknown"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
