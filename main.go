// The main package for the pressdigest executable.
package main

import (
	"github.com/JakeFAU/press-digest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
