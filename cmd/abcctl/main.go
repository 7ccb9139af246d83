// Package main is the entry point for the abcctl CLI.
package main

import (
	"os"

	"github.com/warp/abc-engine/cmd/abcctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
