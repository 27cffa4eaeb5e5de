// Command memvaultctl is a thin CLI wrapper around the memvault
// libraries: it parses flags, calls into the real packages, and prints a
// JSON result with a spec-mandated exit code. No decision logic lives
// here.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RootCmd is the entrypoint for the memvaultctl binary.
var RootCmd = &cobra.Command{
	Use:   "memvaultctl",
	Short: "memvaultctl drives the local-first memory vault pipeline",
	Long:  "memvaultctl drives the local-first memory vault pipeline",
}

func init() {
	RootCmd.AddCommand(ingestCmd)
	RootCmd.AddCommand(verifyCmd)
	RootCmd.AddCommand(syncCmd)
	RootCmd.AddCommand(searchCmd)
	RootCmd.AddCommand(bundleCmd)
	RootCmd.AddCommand(repairCmd)
	RootCmd.AddCommand(importCmd)
	RootCmd.AddCommand(retryCmd)
	RootCmd.AddCommand(workerCmd)
	RootCmd.AddCommand(indexCmd)
	RootCmd.AddCommand(gcCmd)
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitValidation)
	}
}

// Exit codes per the CLI boundary contract: 0 success, 2 invalid
// input/validation failure, 3 hard-fail in an evaluation run.
const (
	exitOK         = 0
	exitValidation = 2
	exitHardFail   = 3
)

func die(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}
