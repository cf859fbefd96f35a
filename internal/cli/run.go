// Package cli decouples the sfeed entrypoint from package main so other
// packages and tests can drive the command line in-process.
package cli

import (
	"fmt"
	"io"
	"os"
)

// Handler runs the command line and returns the process exit code. Package
// main installs it from init.
var Handler func(args []string, stdout, stderr io.Writer) int

// Run invokes Handler. Without a handler it reports an internal error.
func Run(args []string, stdout, stderr io.Writer) int {
	if Handler == nil {
		fmt.Fprintln(stderr, "sfeed: command line handler not installed")
		return 1
	}
	return Handler(args, stdout, stderr)
}

// Main runs the process arguments against the standard streams.
func Main() int {
	return Run(os.Args[1:], os.Stdout, os.Stderr)
}
