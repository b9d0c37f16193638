package main

import (
	"github.com/JakeFAU/domain-enricher/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
