package main

import (
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

// runCoverageCmd implements `autokernel coverage`: for every tool seen
// in a trace, reports whether at least one pass ran a non-empty
// post-condition suite. Tools that only ever verified vacuously are
// flagged as uncovered.
//
// Exit codes:
//
//	0 = all observed tools covered (or --fail-on-missing unset)
//	1 = uncovered tools found and --fail-on-missing set
//	2 = usage or runtime error
func runCoverageCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("postcondition-coverage", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		eventsPath    string
		failOnMissing bool
	)
	cmd.StringVar(&eventsPath, "events-file", "", "Path to events.jsonl (REQUIRED)")
	cmd.BoolVar(&failOnMissing, "fail-on-missing", false, "Exit non-zero when a tool has no post-conditions")

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

	toolByRequest := make(map[string]string)
	covered := make(map[string]bool)
	for _, ev := range events {
		switch ev.Type {
		case contracts.EventToolProposed:
			if tool, ok := ev.Payload["tool"].(string); ok {
				toolByRequest[ev.RequestID] = tool
				if _, seen := covered[tool]; !seen {
					covered[tool] = false
				}
			}
		case contracts.EventToolVerified:
			tool, ok := toolByRequest[ev.RequestID]
			if !ok {
				continue
			}
			if checks, ok := ev.Payload["checks"].([]any); ok && len(checks) > 0 {
				covered[tool] = true
			}
		}
	}

	tools := make([]string, 0, len(covered))
	for tool := range covered {
		tools = append(tools, tool)
	}
	sort.Strings(tools)

	missing := 0
	for _, tool := range tools {
		status := "covered"
		if !covered[tool] {
			status = "MISSING"
			missing++
		}
		_, _ = fmt.Fprintf(stdout, "%-40s %s\n", tool, status)
	}
	_, _ = fmt.Fprintf(stdout, "\n%d tools, %d without post-conditions\n", len(tools), missing)

	if missing > 0 && failOnMissing {
		return 1
	}
	return 0
}
