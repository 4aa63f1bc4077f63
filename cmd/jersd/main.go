// Command jersd is the batch job scheduling controller daemon.
//
// Usage:
//
//	jersd --config jersd.yaml run
package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/jers/internal/cli"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "jersd: fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildDaemonCLI()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "jersd: %v\n", err)
		os.Exit(1)
	}
}
