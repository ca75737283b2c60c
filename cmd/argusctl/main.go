// Argusctl drives the finding-enrichment pipeline from the command
// line: it acquires evidence bundles into the document store and
// checks pipeline determinism.
package main

import (
	"fmt"
	"os"
)

func main() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "argusctl:", err)
		os.Exit(1)
	}
}
