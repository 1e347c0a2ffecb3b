// Package main is the entry point for procwatch.
package main

import (
	"fmt"
	"os"

	"procwatch/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
