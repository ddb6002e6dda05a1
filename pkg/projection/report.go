package projection

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ReportJSON renders the projections as indented JSON.
func ReportJSON(projections []RequestProjection) ([]byte, error) {
	return json.MarshalIndent(projections, "", "  ")
}

// ReportMarkdown renders a per-request table plus a status tally.
func ReportMarkdown(projections []RequestProjection) string {
	var b strings.Builder
	b.WriteString("# Request Projections\n\n")
	b.WriteString("| Request | Events | Seq range | Status | Compensated | Incident | Last error |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")

	tally := map[string]int{}
	for _, p := range projections {
		tally[p.Status]++
		fmt.Fprintf(&b, "| %s | %d | %d-%d | %s | %v | %v | %s |\n",
			p.RequestID, p.EventCount, p.FirstSequenceID, p.LastSequenceID,
			p.Status, p.HasCompensation, p.HasUnresolvedCompensationIncident, p.LastError)
	}

	b.WriteString("\n## Totals\n\n")
	for _, status := range []string{StatusSucceeded, StatusFailed, StatusInProgress, StatusUnknown} {
		if tally[status] > 0 {
			fmt.Fprintf(&b, "- %s: %d\n", status, tally[status])
		}
	}
	return b.String()
}
