// Command ttshub runs the local text-to-speech studio service.
package main

import (
	"os"

	"github.com/jmylchreest/ttshub/cmd/ttshub/cmd"
)

func main() {
	if cmd.Execute() != nil {
		os.Exit(1)
	}
}
