// Package main is the entry point for the engram CLI.
package main

import (
	"os"

	"github.com/engramhq/engram/cmd/engram/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
