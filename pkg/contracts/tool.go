// Package contracts holds the shared data model of the autonomy kernel:
// tool contracts, proposed calls, approval requests, execution events,
// pipeline and orchestration results.
//
// Everything in this package is a plain serializable record. Behavior
// lives in the component packages; contracts only carry data and the
// structural invariants that belong to the data itself.
package contracts

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// RiskClass categorizes a tool's blast radius.
type RiskClass string

const (
	// RiskReadOnly tools have no observable side effect.
	RiskReadOnly RiskClass = "read-only"
	// RiskReversible tools have effects that a registered compensation can undo.
	RiskReversible RiskClass = "reversible"
	// RiskIrreversible tools always require approval before execution.
	RiskIrreversible RiskClass = "irreversible"
)

// Valid reports whether rc is one of the three known risk classes.
func (rc RiskClass) Valid() bool {
	switch rc {
	case RiskReadOnly, RiskReversible, RiskIrreversible:
		return true
	}
	return false
}

// Call sources.
const (
	SourceUser     = "user"
	SourceSystem   = "system"
	SourceLLM      = "llm"
	SourceAutonomy = "autonomy"
	SourceAgent    = "agent"
)

// ToolContract is the immutable registration record for a tool.
// ParamsSchema is a JSON Schema (draft 2020-12) document; the schema
// validator compiles it once at registration.
type ToolContract struct {
	Name                string          `json:"name"`
	Version             string          `json:"version"`
	RiskClass           RiskClass       `json:"riskClass"`
	ParamsSchema        json.RawMessage `json:"paramsSchema,omitempty"`
	RequiredPermissions []string        `json:"requiredPermissions,omitempty"`
	SideEffects         []string        `json:"sideEffects,omitempty"`
	RequiresApproval    bool            `json:"requiresApproval"`
	TimeoutMs           int64           `json:"timeoutMs,omitempty"`
}

var (
	ErrContractName      = errors.New("contract name must not be empty")
	ErrContractRiskClass = errors.New("contract risk class is unknown")
	// ErrIrreversibleNeedsApproval guards the hard invariant that an
	// irreversible tool can never skip the approval gate.
	ErrIrreversibleNeedsApproval = errors.New("irreversible contracts must require approval")
)

// Validate checks the structural invariants of a contract.
func (c *ToolContract) Validate() error {
	if c.Name == "" {
		return ErrContractName
	}
	if !c.RiskClass.Valid() {
		return ErrContractRiskClass
	}
	if c.RiskClass == RiskIrreversible && !c.RequiresApproval {
		return ErrIrreversibleNeedsApproval
	}
	if c.Version != "" {
		if _, err := semver.NewVersion(c.Version); err != nil {
			return fmt.Errorf("contract version %q is not semver: %w", c.Version, err)
		}
	}
	return nil
}

// HasTag reports whether the contract carries the given side-effect tag.
func (c *ToolContract) HasTag(tag string) bool {
	for _, t := range c.SideEffects {
		if t == tag {
			return true
		}
	}
	return false
}
