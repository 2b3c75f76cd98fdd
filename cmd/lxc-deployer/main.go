// Package main provides the lxc-deployer CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/oci-lxc/deployer/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
