// Command dicectl is a convenience harness around the DICE library: a thin
// cobra CLI wired to a real SQLite-backed repository, matching §6's "CLI
// surface... not part of the core."
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
