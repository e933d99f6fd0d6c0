// Package main is the entry point for the hipd Host Identity Protocol daemon.
package main

import (
	"fmt"
	"os"

	"github.com/hiplane/hipd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
