package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/eventlog"
)

// runVerifyChainCmd implements `autokernel verify-chain`.
//
// Exit codes:
//
//	0 = chain intact
//	1 = chain broken
//	2 = usage or runtime error
func runVerifyChainCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-chain", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var eventsPath string
	cmd.StringVar(&eventsPath, "events-file", "", "Path to events.jsonl (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if eventsPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --events-file is required")
		return 2
	}

	events, err := readEvents(eventsPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ok, detail := eventlog.VerifyEvents(events)
	if !ok {
		_, _ = fmt.Fprintf(stderr, "FAIL: %s\n", detail)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "OK: %s (%d events)\n", detail, len(events))
	return 0
}
