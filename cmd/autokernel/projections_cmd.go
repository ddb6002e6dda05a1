package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/eventlog"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/projection"
)

// runProjectionsCmd implements `autokernel rebuild-event-projections`.
// Without output flags the JSON report goes to stdout.
//
// Exit codes:
//
//	0 = projections written
//	2 = usage or runtime error
func runProjectionsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("rebuild-event-projections", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		eventsPath string
		outJSON    string
		outMD      string
	)
	cmd.StringVar(&eventsPath, "events-file", "", "Path to events.jsonl (REQUIRED)")
	cmd.StringVar(&outJSON, "out-json", "", "Write the JSON report to this path")
	cmd.StringVar(&outMD, "out-md", "", "Write the Markdown report to this path")

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

	projections := projection.RebuildAllRequestProjections(events)

	jsonReport, err := projection.ReportJSON(projections)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	jsonReport = append(jsonReport, '\n')

	if outJSON == "" && outMD == "" {
		_, _ = stdout.Write(jsonReport)
		return 0
	}
	if outJSON != "" {
		if err := os.WriteFile(outJSON, jsonReport, 0o644); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}
	if outMD != "" {
		if err := os.WriteFile(outMD, []byte(projection.ReportMarkdown(projections)), 0o644); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}
	_, _ = fmt.Fprintf(stdout, "Rebuilt %d projections from %d events\n", len(projections), len(events))
	return 0
}

func readEvents(path string) ([]contracts.ExecutionEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return eventlog.ReadJSONL(f)
}
