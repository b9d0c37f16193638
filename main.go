// The main package for the domain-enricher executable.
package main

import (
	"github.com/JakeFAU/domain-enricher/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
