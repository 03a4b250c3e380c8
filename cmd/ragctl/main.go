// ragctl is a command-line client for the ragserver HTTP API: a cobra
// root command with a --server persistent flag and one subcommand per
// server operation.
package main

import (
	"os"

	"github.com/fyrsmithlabs/ragserver/cmd/ragctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
