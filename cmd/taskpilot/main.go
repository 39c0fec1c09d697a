// Command taskpilot runs the tool-calling agent against a local project store.
package main

import (
	"fmt"
	"os"

	"github.com/harun/taskpilot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
