// Package main is the entry point for the shelfctl CLI tool.
package main

import (
	"os"

	"github.com/shelfline/shelfline/cmd/shelfctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
