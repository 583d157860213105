// Command ingestd runs and operates scheduled sync jobs.
package main

import (
	"fmt"
	"os"
)

// Set by release ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ingestd:", err)
		os.Exit(1)
	}
}
