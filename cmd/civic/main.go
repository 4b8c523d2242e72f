// Package main provides the civic CLI.
package main

import (
	"fmt"
	"os"

	"github.com/openplans/newark2.0/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
