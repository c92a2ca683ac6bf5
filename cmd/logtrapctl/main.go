// Package main is the entry point for the logtrapctl CLI tool.
package main

import (
	"os"

	"github.com/good-yellow-bee/logtrap/cmd/logtrapctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
