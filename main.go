package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}

// exitOnError prints err to stderr and exits 1. errNotFound has already
// been reported on stdout.
func exitOnError(err error) {
	if !errors.Is(err, errNotFound) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	os.Exit(1)
}
