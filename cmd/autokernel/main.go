// Command autokernel is the operator CLI for kernel event streams:
// projection rebuilds, chain verification, trace export and
// post-condition coverage reporting.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "rebuild-event-projections":
		return runProjectionsCmd(args[2:], stdout, stderr)
	case "verify-chain":
		return runVerifyChainCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "postcondition-coverage":
		return runCoverageCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: autokernel <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  rebuild-event-projections  Rebuild per-request projections from an events.jsonl stream")
	fmt.Fprintln(w, "  verify-chain               Verify hash chain integrity of an events.jsonl stream")
	fmt.Fprintln(w, "  export                     Filter and re-export events for audit handoff")
	fmt.Fprintln(w, "  postcondition-coverage     Report post-condition coverage observed in a trace")
	fmt.Fprintln(w, "  help                       Show this help")
}
