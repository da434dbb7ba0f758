package main

import "eeg-io-engine/internal/cli"

func main() {
	cli.Execute()
}
