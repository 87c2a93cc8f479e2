// Package main is the entry point for the analysisweb CLI.
// awctl registers measurements and analyses, submits jobs and reads their logs.
package main

import (
	"analysisweb/cmd/cli/cmd"
	"os"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
