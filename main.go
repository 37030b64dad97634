// The main package for the ogpipe executable.
package main

import (
	"github.com/previewkit/ogpipe/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
