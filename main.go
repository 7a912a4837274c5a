// Command duskq is the entry point for the daemon and its companion CLI
// client; "duskq daemon" runs the daemon, every other subcommand is a
// client that talks to it over its socket.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/duskq/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
