// Package main provides the entry point for the stela CLI.
package main

import (
	"os"

	"github.com/steladb/stela/cmd/stela/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
