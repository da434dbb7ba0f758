package main

import (
	"fmt"
	"os"

	"eeg-io-engine/internal/cli"
)

// Equivalent to "eeg-io serve"; all flags are passed through.
func main() {
	root := cli.NewRootCommand()
	root.SetArgs(append([]string{"serve"}, os.Args[1:]...))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
