package contracts

// Verification status values.
const (
	VerificationPassed  = "passed"
	VerificationFailed  = "failed"
	VerificationPartial = "partial"
)

// CheckResult is the outcome of a single post-condition or invariant.
type CheckResult struct {
	ID         string `json:"id"`
	Passed     bool   `json:"passed"`
	Severity   string `json:"severity"`
	Detail     string `json:"detail,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// VerificationReport aggregates post-condition results for one pipeline pass.
type VerificationReport struct {
	Status             string        `json:"status"`
	Checks             []CheckResult `json:"checks"`
	HasCriticalFailure bool          `json:"hasCriticalFailure"`
}

// InvariantReport aggregates cross-system invariant results.
type InvariantReport struct {
	Status               string        `json:"status"`
	Checks               []CheckResult `json:"checks"`
	HasCriticalViolation bool          `json:"hasCriticalViolation"`
}

// ApprovalOutcome summarizes the approval phase of a pipeline pass.
type ApprovalOutcome struct {
	Required  bool     `json:"required"`
	Decision  Decision `json:"decision,omitempty"`
	DecidedBy string   `json:"decidedBy,omitempty"`
	Auto      bool     `json:"auto,omitempty"`
}

// CompensationResult reports a compensation attempt.
type CompensationResult struct {
	Attempted bool   `json:"attempted"`
	Success   bool   `json:"success"`
	Detail    string `json:"detail,omitempty"`
}

// Pipeline error strings surfaced on failure. These are stable API, not
// display text.
const (
	ErrValidationFailed = "Validation failed"
	ErrApprovalDenied   = "Approval denied"
	ErrSafeModeActive   = "SAFE_MODE_ACTIVE"
)

// PipelineResult is the structured, non-throwing outcome of one tool call
// pass through the execution pipeline.
type PipelineResult struct {
	RequestID    string              `json:"requestId"`
	ToolName     string              `json:"toolName"`
	Success      bool                `json:"success"`
	Result       any                 `json:"result,omitempty"`
	Validation   *ValidationResult   `json:"validation,omitempty"`
	Approval     *ApprovalOutcome    `json:"approval,omitempty"`
	Verification *VerificationReport `json:"verification,omitempty"`
	Invariants   *InvariantReport    `json:"invariants,omitempty"`
	Compensation *CompensationResult `json:"compensation,omitempty"`
	DurationMs   int64               `json:"durationMs"`
	Error        string              `json:"error,omitempty"`
}
