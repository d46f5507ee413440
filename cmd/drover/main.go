// Package main is the entry point for drover.
package main

import (
	"os"

	"github.com/drover-sh/drover/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
