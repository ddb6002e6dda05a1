package contracts

// ProposedToolCall is a tool invocation submitted by an external producer.
// Params is opaque until the schema validator has coerced it against the
// contract's parameter schema.
type ProposedToolCall struct {
	Tool          string         `json:"tool"`
	Params        map[string]any `json:"params"`
	Source        string         `json:"source"`
	RequestID     string         `json:"requestId"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

// Validation error codes. Every error the schema validator returns uses
// one of these five codes.
type ValidationCode string

const (
	CodeMissingField ValidationCode = "missing_field"
	CodeTypeMismatch ValidationCode = "type_mismatch"
	CodeOutOfRange   ValidationCode = "out_of_range"
	CodeUnknownField ValidationCode = "unknown_field"
	CodeInvalidValue ValidationCode = "invalid_value"
)

// ValidationIssue is one classified validation error.
type ValidationIssue struct {
	Field    string         `json:"field,omitempty"`
	Code     ValidationCode `json:"code"`
	Message  string         `json:"message"`
	Severity string         `json:"severity,omitempty"`
}

// ValidationResult is the outcome of validating a proposed call against
// its contract. ValidatedParams is only set when Valid is true.
type ValidationResult struct {
	Valid            bool              `json:"valid"`
	Errors           []ValidationIssue `json:"errors,omitempty"`
	ValidatedParams  map[string]any    `json:"validatedParams,omitempty"`
	RiskClass        RiskClass         `json:"riskClass,omitempty"`
	RequiresApproval bool              `json:"requiresApproval"`
}
