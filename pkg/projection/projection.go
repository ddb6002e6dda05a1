// Package projection rebuilds per-request summaries from the raw event
// log. RebuildAllRequestProjections is a pure function: the same event
// set yields the same projections in any input order.
package projection

import (
	"sort"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

// Request statuses.
const (
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusInProgress = "in_progress"
	StatusUnknown    = "unknown"
)

// RequestProjection is the deterministic summary of one request's events.
type RequestProjection struct {
	RequestID                        string   `json:"requestId"`
	FirstSequenceID                  uint64   `json:"firstSequenceId"`
	LastSequenceID                   uint64   `json:"lastSequenceId"`
	EventCount                       int      `json:"eventCount"`
	Status                           string   `json:"status"`
	HasCompensation                  bool     `json:"hasCompensation"`
	HasUnresolvedCompensationIncident bool    `json:"hasUnresolvedCompensationIncident"`
	HasVerificationFailure           bool     `json:"hasVerificationFailure"`
	HasCriticalInvariantViolation    bool     `json:"hasCriticalInvariantViolation"`
	CorrelationIDs                   []string `json:"correlationIds,omitempty"`
	LastError                        string   `json:"lastError,omitempty"`
}

// RebuildAllRequestProjections folds the events into one projection per
// request, sorted by first sequence ID.
func RebuildAllRequestProjections(events []contracts.ExecutionEvent) []RequestProjection {
	byRequest := make(map[string][]contracts.ExecutionEvent)
	for _, e := range events {
		byRequest[e.RequestID] = append(byRequest[e.RequestID], e)
	}

	out := make([]RequestProjection, 0, len(byRequest))
	for requestID, evs := range byRequest {
		sort.Slice(evs, func(i, j int) bool { return evs[i].SequenceID < evs[j].SequenceID })
		out = append(out, buildOne(requestID, evs))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSequenceID < out[j].FirstSequenceID })
	return out
}

func buildOne(requestID string, evs []contracts.ExecutionEvent) RequestProjection {
	p := RequestProjection{
		RequestID:       requestID,
		FirstSequenceID: evs[0].SequenceID,
		LastSequenceID:  evs[len(evs)-1].SequenceID,
		EventCount:      len(evs),
		Status:          StatusUnknown,
	}

	correlations := make(map[string]struct{})
	sawFailed, sawVerified := false, false
	for _, e := range evs {
		if e.CorrelationID != "" {
			correlations[e.CorrelationID] = struct{}{}
		}
		switch e.Type {
		case contracts.EventToolFailed:
			sawFailed = true
			if msg, ok := e.Payload["error"].(string); ok && msg != "" {
				p.LastError = msg
			}
		case contracts.EventToolVerified:
			sawVerified = true
			if critical, ok := e.Payload["hasCriticalFailure"].(bool); ok && critical {
				p.HasVerificationFailure = true
			}
			if status, ok := e.Payload["status"].(string); ok && status == contracts.VerificationFailed {
				p.HasVerificationFailure = true
			}
		case contracts.EventInvariantsChecked:
			if critical, ok := e.Payload["hasCriticalViolation"].(bool); ok && critical {
				p.HasCriticalInvariantViolation = true
			}
		case contracts.EventToolCompensated:
			p.HasCompensation = true
		case contracts.EventCompensationIncident:
			p.HasUnresolvedCompensationIncident = true
		}
	}

	switch {
	case sawFailed:
		p.Status = StatusFailed
	case sawVerified:
		p.Status = StatusSucceeded
	default:
		p.Status = StatusInProgress
	}

	if len(correlations) > 0 {
		p.CorrelationIDs = make([]string, 0, len(correlations))
		for id := range correlations {
			p.CorrelationIDs = append(p.CorrelationIDs, id)
		}
		sort.Strings(p.CorrelationIDs)
	}
	return p
}
