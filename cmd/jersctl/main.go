// Command jersctl submits and inspects jobs on a running jersd
// controller.
//
// Usage:
//
//	jersctl submit --queue batch -- ./myjob.sh arg1
//	jersctl list --queue batch
//	jersctl hold 1042
//	jersctl release 1042
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
			fmt.Fprintf(os.Stderr, "jersctl: fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildClientCLI()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "jersctl: %v\n", err)
		os.Exit(1)
	}
}
