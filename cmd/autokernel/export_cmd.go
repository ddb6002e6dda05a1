package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/eventlog"
)

// runExportCmd implements `autokernel export`: filters an event stream
// down to one request or correlation and re-emits it as JSONL for
// audit handoff.
//
// Exit codes:
//
//	0 = export completed
//	2 = usage or runtime error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		eventsPath  string
		outPath     string
		requestID   string
		correlation string
	)
	cmd.StringVar(&eventsPath, "events-file", "", "Path to events.jsonl (REQUIRED)")
	cmd.StringVar(&outPath, "out", "", "Output path (default stdout)")
	cmd.StringVar(&requestID, "request", "", "Only events for this request ID")
	cmd.StringVar(&correlation, "correlation", "", "Only events with this correlation ID")

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

	selected := make([]contracts.ExecutionEvent, 0, len(events))
	for _, ev := range events {
		if requestID != "" && ev.RequestID != requestID {
			continue
		}
		if correlation != "" && ev.CorrelationID != correlation {
			continue
		}
		selected = append(selected, ev)
	}

	out := stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		defer f.Close()
		out = f
	}
	if err := eventlog.WriteJSONL(out, selected); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if outPath != "" {
		_, _ = fmt.Fprintf(stdout, "Exported %d of %d events to %s\n", len(selected), len(events), outPath)
	}
	return 0
}
