// The main package for the scholar-ingest executable.
package main

import (
	"github.com/JakeFAU/scholar-ingest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
