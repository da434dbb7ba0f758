// Unified entry point for eeg-io-engine.
// With a subcommand it behaves like cmd/cli; without one it serves the
// dataset configured through --config or EEGIO_* variables.
package main

import (
	"fmt"
	"os"
	"strings"

	"eeg-io-engine/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		root.SetArgs(append([]string{"serve"}, os.Args[1:]...))
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
