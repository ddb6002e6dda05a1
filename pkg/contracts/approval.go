package contracts

import "time"

// Decision is the terminal outcome of an approval request.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
	DecisionExpired  Decision = "expired"
)

// ApprovalRequest is a pending human-in-the-loop decision surfaced by the
// approval gate. Lifecycle: created -> (approved|denied|expired).
// Once a decision is set the request is terminal and immutable.
type ApprovalRequest struct {
	ID          string         `json:"id"`
	ToolName    string         `json:"toolName"`
	RiskClass   RiskClass      `json:"riskClass"`
	CallPayload map[string]any `json:"callPayload,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	ExpiresAt   time.Time      `json:"expiresAt"`

	Decision  Decision  `json:"decision,omitempty"`
	DecidedBy string    `json:"decidedBy,omitempty"`
	DecidedAt time.Time `json:"decidedAt,omitzero"`
	Reason    string    `json:"reason,omitempty"`
}

// Terminal reports whether the request has reached a final decision.
func (r *ApprovalRequest) Terminal() bool {
	return r.Decision != ""
}
