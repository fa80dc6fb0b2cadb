// Package main is the entry point for lxc-wold.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}
