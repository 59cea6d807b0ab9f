package main

import (
	"github.com/tjbishop07/autoteller/cmd"
)

// main is the entry point for the autoteller CLI.
func main() {
	// Execute handles command-line parsing, configuration and signal-aware
	// execution.
	cmd.Execute()
}
