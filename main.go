// SPDX-License-Identifier: MIT
package main

import (
	"fmt"
	"os"

	"lipsync/cmd"
	applog "lipsync/internal/log"
	"lipsync/pkg/build"
)

// main initializes build information and hands over to the command tree.
// Every subcommand owns its engine: it builds one from the configuration,
// runs until its source is exhausted or a termination signal arrives, and
// destroys it on the way out.
func main() {
	// Initialize build information including version, commit hash, and build time
	if err := build.Initialize(); err != nil {
		applog.Fatalf("%v", err)
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", build.GetBuildFlags().Name, err)
		os.Exit(1)
	}
}
