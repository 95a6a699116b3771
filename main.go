// The main package for the fetchpipe executable.
package main

import (
	"github.com/fetchpipe/fetchpipe/cmd"
)

func main() {
	cmd.Execute()
}
