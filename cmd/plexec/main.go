// Command plexec validates, runs and tests plans.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/plexec/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
