// The main package for the imm-crawler executable.
package main

import (
	"github.com/fcdockets/imm-crawler/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
