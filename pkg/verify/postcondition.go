package verify

import (
	"context"
	"sync"
	"time"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

// CheckContext is what a post-condition sees after a tool executed.
type CheckContext struct {
	ToolName  string
	RequestID string
	Params    map[string]any
	Result    any
}

// PostCondition is one per-tool check.
type PostCondition struct {
	ID       string
	Severity string
	Owner    string
	Check    func(ctx context.Context, cc *CheckContext) (bool, error)
}

// Verifier holds the toolName -> []PostCondition mapping.
type Verifier struct {
	mu         sync.RWMutex
	conditions map[string][]PostCondition
	timeout    time.Duration
}

func NewVerifier() *Verifier {
	return &Verifier{
		conditions: make(map[string][]PostCondition),
		timeout:    DefaultCheckTimeout,
	}
}

// WithCheckTimeout overrides the per-check timeout.
func (v *Verifier) WithCheckTimeout(d time.Duration) *Verifier {
	v.timeout = d
	return v
}

// Register appends post-conditions for a tool.
func (v *Verifier) Register(toolName string, conds ...PostCondition) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.conditions[toolName] = append(v.conditions[toolName], conds...)
}

// Conditions returns the registered conditions for a tool.
func (v *Verifier) Conditions(toolName string) []PostCondition {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]PostCondition, len(v.conditions[toolName]))
	copy(out, v.conditions[toolName])
	return out
}

// CoveredTools lists tools that have at least one condition.
func (v *Verifier) CoveredTools() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.conditions))
	for name, conds := range v.conditions {
		if len(conds) > 0 {
			out = append(out, name)
		}
	}
	return out
}

// Verify runs every condition for the tool sequentially. A tool with no
// conditions passes vacuously.
func (v *Verifier) Verify(ctx context.Context, cc *CheckContext) *contracts.VerificationReport {
	conds := v.Conditions(cc.ToolName)

	checks := make([]contracts.CheckResult, 0, len(conds))
	for _, cond := range conds {
		fn := cond.Check
		checks = append(checks, runCheck(ctx, cond.ID, cond.Severity, v.timeout,
			func(c context.Context) (bool, error) { return fn(c, cc) }))
	}

	status, critical := summarize(checks)
	return &contracts.VerificationReport{
		Status:             status,
		Checks:             checks,
		HasCriticalFailure: critical,
	}
}
