package contracts

import "time"

// GoalPriority values.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Goal statuses.
const (
	GoalActive    = "active"
	GoalPaused    = "paused"
	GoalCompleted = "completed"
	GoalFailed    = "failed"
)

// Goal is owned exclusively by the goal manager and referenced by ID from
// plans. Agent-sourced goals are only admitted above a trust floor.
type Goal struct {
	ID              string    `json:"id"`
	Description     string    `json:"description"`
	Priority        string    `json:"priority"`
	Status          string    `json:"status"`
	ParentGoalID    string    `json:"parentGoalId,omitempty"`
	SuccessCriteria []string  `json:"successCriteria,omitempty"`
	Source          string    `json:"source"`
	SourceTrust     float64   `json:"sourceTrust"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Plan statuses.
const (
	PlanPending   = "pending"
	PlanExecuting = "executing"
	PlanComplete  = "complete"
	PlanFailed    = "failed"
	PlanCancelled = "cancelled"
)

// PlanStep is one tool invocation within a plan. DependsOn may reference
// only earlier steps; the step graph is a DAG by construction.
type PlanStep struct {
	ID        string         `json:"id"`
	ToolName  string         `json:"toolName"`
	Params    map[string]any `json:"params,omitempty"`
	DependsOn []string       `json:"dependsOn,omitempty"`
}

// ExecutionPlan is the planner's output.
type ExecutionPlan struct {
	ID        string     `json:"id"`
	Goals     []string   `json:"goals,omitempty"`
	Steps     []PlanStep `json:"steps"`
	CreatedAt time.Time  `json:"createdAt"`
	Status    string     `json:"status"`
}

// OrchestratedRequest is the admission input to the role orchestrator.
type OrchestratedRequest struct {
	Description   string   `json:"description"`
	Source        string   `json:"source"`
	SourceTrust   float64  `json:"sourceTrust"`
	AgentID       string   `json:"agentId,omitempty"`
	GoalIDs       []string `json:"goalIds,omitempty"`
	CorrelationID string   `json:"correlationId,omitempty"`
}

// Anomaly is a recorded deviation: policy denials, role failures,
// circuit-breaker rejections, internal errors.
type Anomaly struct {
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurredAt"`
}

// MemoryReport summarizes the memory writer's pass over step outputs.
type MemoryReport struct {
	Total       int `json:"total"`
	Allowed     int `json:"allowed"`
	Quarantined int `json:"quarantined"`
	Rejected    int `json:"rejected"`
}

// DriftReport quantifies deviation from the reference policy.
type DriftReport struct {
	Score   float64  `json:"score"`
	Signals []string `json:"signals,omitempty"`
}

// AuditReport is the auditor's output for one orchestration window.
type AuditReport struct {
	Drift           DriftReport `json:"driftReport"`
	Anomalies       []Anomaly   `json:"anomalies"`
	Recommendations []string    `json:"recommendations,omitempty"`
}

// OrchestratedResult aggregates one full Planner -> Executor -> Verifier ->
// MemoryWriter -> Auditor cycle.
type OrchestratedResult struct {
	Plan                *ExecutionPlan       `json:"plan,omitempty"`
	Executions          []PipelineResult     `json:"executions"`
	VerificationReports []VerificationReport `json:"verificationReports,omitempty"`
	MemoryReport        *MemoryReport        `json:"memoryReport,omitempty"`
	AuditReport         *AuditReport         `json:"auditReport,omitempty"`
	Anomalies           []Anomaly            `json:"anomalies,omitempty"`
	DurationMs          int64                `json:"durationMs"`
	Success             bool                 `json:"success"`
	Error               string               `json:"error,omitempty"`
}
