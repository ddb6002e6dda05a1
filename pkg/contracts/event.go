package contracts

import "time"

// Event types recorded by the execution pipeline. The event log is the
// system of record; every phase of a pipeline pass appends exactly one.
const (
	EventToolProposed            = "tool:proposed"
	EventToolValidated           = "tool:validated"
	EventApprovalRequested       = "tool:approval:requested"
	EventApprovalResolved        = "tool:approval:resolved"
	EventToolExecuting           = "tool:executing"
	EventToolExecuted            = "tool:executed"
	EventToolVerified            = "tool:verified"
	EventInvariantsChecked       = "tool:invariants:checked"
	EventToolCompensated         = "tool:compensated"
	EventCompensationIncident    = "tool:compensation:incident:opened"
	EventToolFailed              = "tool:failed"
	EventDecisionLogged          = "tool:decision:logged"
)

// ExecutionEvent is one immutable record in the append-only event log.
//
// EventHash covers prevHash, sequenceId, requestId, type, the RFC 8785
// canonical form of the payload, and the timestamp. PrevHash is the
// previous event's hash globally, empty for the first event in a store.
type ExecutionEvent struct {
	SequenceID    uint64         `json:"sequenceId"`
	RequestID     string         `json:"requestId"`
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlationId,omitempty"`
	PrevHash      string         `json:"prevHash,omitempty"`
	EventHash     string         `json:"eventHash"`
}
